package cmd

import (
	"context"
	"os"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/loop"
	"github.com/samsaffron/llmloop/internal/session"
	"github.com/samsaffron/llmloop/internal/signal"
	"github.com/spf13/cobra"
)

var (
	runProvider  string
	runMaxSteps  int
	runTools     string
	runYolo      bool
	runStats     bool
	runReasoning bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run the tool loop for a prompt",
	Long: `Send a prompt to the model and run the tools it requests until it answers.

Tool calls that need approval prompt on a terminal. Without a terminal the
conversation is saved as a blocked session and its id is printed; continue
it with "llmloop resume".

Examples:
  llmloop run "list the go files and count their lines"
  llmloop run -p local:qwen3 --max-steps 8 "fix the failing test"
  git diff | llmloop run -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	AddProviderFlag(runCmd, &runProvider)
	AddMaxStepsFlag(runCmd, &runMaxSteps)
	AddToolsFlag(runCmd, &runTools)
	runCmd.Flags().BoolVar(&runYolo, "yolo", false, "Run every tool call without asking")
	runCmd.Flags().BoolVar(&runStats, "stats", false, "Print time, token and tool statistics")
	runCmd.Flags().BoolVar(&runReasoning, "reasoning", false, "Show model reasoning on stderr")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(args, os.Stdin)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyToolsFlag(cfg, runTools); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, runProvider)
	if err != nil {
		return err
	}
	defer a.close()
	a.showStats = runStats
	a.reasoning = runReasoning
	if runYolo {
		a.policy.SetYolo(true)
	}
	return a.run(ctx, prompt, runMaxSteps, runYolo)
}

// run starts a new session for prompt.
func (a *app) run(ctx context.Context, prompt string, maxSteps int, yolo bool) error {
	ctrl := a.controller(maxSteps)
	sess := &session.Session{Prompt: prompt, Provider: a.providerName, Model: a.model}
	messages := []llm.Message{llm.UserText(prompt)}

	var outcome loop.Outcome
	var err error
	if yolo {
		outcome, err = ctrl.Run(ctx, messages)
	} else {
		outcome, err = ctrl.RunUntilBlocked(ctx, messages)
	}
	if err != nil {
		return err
	}
	return a.finish(ctx, ctrl, sess, outcome)
}
