package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samsaffron/llmloop/internal/config"
	"github.com/samsaffron/llmloop/internal/tools"
	"github.com/spf13/cobra"
)

// AddProviderFlag adds the --provider/-p flag with completion.
func AddProviderFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVarP(dest, "provider", "p", "", "Provider name from config, optionally with model (e.g., ollama:qwen3)")
	if err := cmd.RegisterFlagCompletionFunc("provider", ProviderFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
}

// AddMaxStepsFlag adds the --max-steps flag. Zero keeps the config value.
func AddMaxStepsFlag(cmd *cobra.Command, dest *int) {
	cmd.Flags().IntVar(dest, "max-steps", 0, "Maximum model turns for this invocation (default from config)")
}

// AddToolsFlag adds the --tools flag overriding tools.enabled.
func AddToolsFlag(cmd *cobra.Command, dest *string) {
	cmd.Flags().StringVar(dest, "tools", "", "Comma-separated built-in tools to enable, or 'all' (default from config)")
	if err := cmd.RegisterFlagCompletionFunc("tools", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return append(tools.AllToolNames(), "all"), cobra.ShellCompDirectiveNoFileComp
	}); err != nil {
		panic("failed to register tools completion: " + err.Error())
	}
}

// applyToolsFlag replaces the enabled tool list when value is set.
func applyToolsFlag(cfg *config.Config, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	names := tools.ParseToolsFlag(value)
	for _, name := range names {
		if !tools.ValidToolName(name) {
			return fmt.Errorf("unknown tool %q (valid: %s)", name, strings.Join(tools.AllToolNames(), ", "))
		}
	}
	cfg.Tools.Enabled = names
	return nil
}

// ProviderFlagCompletion completes configured provider names.
func ProviderFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for name := range cfg.Providers {
		if strings.HasPrefix(name, toComplete) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, cobra.ShellCompDirectiveNoFileComp
}

// parseProviderFlag splits "name:model". Either part may be empty.
func parseProviderFlag(value string) (name, model string) {
	name, model, _ = strings.Cut(value, ":")
	return name, model
}
