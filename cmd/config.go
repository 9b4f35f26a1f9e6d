package cmd

import (
	"fmt"
	"maps"
	"os"

	"github.com/samsaffron/llmloop/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration llmloop will use, with API keys masked.

Examples:
  llmloop config              # show current config
  llmloop config path         # print the config file path
  llmloop config init         # write the defaults to the config file`,
	Args: cobra.NoArgs,
	RunE: configShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	Args:  cobra.NoArgs,
	RunE:  configPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE:  configInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if configFile != "" {
		fmt.Fprintf(out, "# %s\n\n", configFile)
	} else if path, err := config.GetConfigPath(); err == nil {
		if config.Exists() {
			fmt.Fprintf(out, "# %s\n\n", path)
		} else {
			fmt.Fprintf(out, "# No config file (using defaults)\n# Create one with: llmloop config init\n\n")
		}
	}
	data, err := yaml.Marshal(maskSecrets(cfg))
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// maskSecrets returns a copy of cfg with API keys hidden.
func maskSecrets(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Providers = maps.Clone(cfg.Providers)
	for name, p := range masked.Providers {
		if p.APIKey != "" {
			p.APIKey = "********"
			masked.Providers[name] = p
		}
	}
	return &masked
}

func configPath(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		fmt.Fprintln(cmd.OutOrStdout(), configFile)
		return nil
	}
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	var err error
	if configFile != "" {
		err = config.SaveFile(config.Default(), path)
	} else {
		err = config.Save(config.Default())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
