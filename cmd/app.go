package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samsaffron/llmloop/internal/config"
	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/loop"
	"github.com/samsaffron/llmloop/internal/mcp"
	"github.com/samsaffron/llmloop/internal/provider"
	"github.com/samsaffron/llmloop/internal/session"
	"github.com/samsaffron/llmloop/internal/tools"
	"github.com/samsaffron/llmloop/internal/ui"
	"golang.org/x/term"
)

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// app is everything one invocation needs: the model, its tools, the
// approval policy and the session store.
type app struct {
	cfg          *config.Config
	provider     llm.Provider
	providerName string
	model        string
	tools        *llm.ToolRegistry
	policy       *tools.Policy
	mcp          *mcp.Manager
	store        session.Store
	logger       *slog.Logger

	out         io.Writer
	status      io.Writer
	interactive bool
	width       int
	stats       *ui.RunStats
	showStats   bool
	reasoning   bool
	prompt      func(loop.Blocked, func(llm.ToolCall) string) (loop.Decisions, error)
}

// newApp wires the configured provider, tools, MCP servers and store.
// providerFlag is "name" or "name:model"; empty selects the default.
func newApp(ctx context.Context, cfg *config.Config, providerFlag string) (*app, error) {
	name, model := parseProviderFlag(providerFlag)
	name, pcfg, err := cfg.Provider(name)
	if err != nil {
		return nil, err
	}
	if model != "" {
		pcfg.Model = model
	}
	p, err := provider.New(name, pcfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		provider:     p,
		providerName: name,
		model:        pcfg.Model,
		logger:       slog.Default(),
		out:          os.Stdout,
		status:       os.Stderr,
		interactive:  isTerminal(os.Stdin) && isTerminal(os.Stdout),
		width:        terminalWidth(),
		stats:        ui.NewRunStats(),
		prompt:       ui.PromptApprovals,
	}

	a.tools, err = tools.NewRegistry(tools.Options{
		Enabled:      cfg.Tools.Enabled,
		Root:         cfg.Tools.Root,
		ShellTimeout: cfg.Tools.ShellTimeout,
	})
	if err != nil {
		return nil, err
	}
	if len(cfg.Tools.MCPServers) > 0 {
		a.mcp = mcp.NewManager(a.logger)
		a.mcp.Start(ctx, cfg.Tools.MCPServers)
		a.mcp.Register(a.tools)
	}
	a.policy, err = tools.NewPolicy(a.tools, cfg.Tools.AutoApprove, cfg.Tools.RequireApproval)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Sessions.Path != "" {
		store, err := session.NewSQLiteStore(cfg.Sessions.Path)
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = store
	}
	return a, nil
}

func (a *app) close() {
	if a.mcp != nil {
		if err := a.mcp.Close(); err != nil {
			a.logger.Debug("closing MCP servers", "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// describe returns the tool's own preview of a call.
func (a *app) describe(call llm.ToolCall) string {
	if tool, ok := a.tools.Get(call.Name); ok {
		return tool.Preview(call.Arguments)
	}
	return ""
}

func (a *app) styles() *ui.Styles {
	if a.interactive {
		return ui.NewStyles(ui.DefaultTheme())
	}
	return ui.PlainStyles()
}

// controller builds a loop controller; maxSteps of zero keeps the config
// value.
func (a *app) controller(maxSteps int) *loop.Controller {
	if maxSteps <= 0 {
		maxSteps = a.cfg.Loop.MaxSteps
	}
	printer := &ui.Printer{
		Out:       a.out,
		Status:    a.status,
		Styles:    a.styles(),
		Stream:    !a.interactive,
		Reasoning: a.reasoning,
		Describe:  a.describe,
	}
	return loop.New(a.provider, a.tools,
		loop.WithMaxSteps(maxSteps),
		loop.WithParallelTools(a.cfg.Loop.Parallel),
		loop.WithModel(a.model),
		loop.WithSystemPrompt(a.cfg.Loop.SystemPrompt),
		loop.WithNeedsApproval(a.policy.NeedsApproval),
		loop.WithObserver(printer.Event),
		loop.WithToolHook(func(call llm.ToolCall, result llm.ToolResult) {
			a.stats.ToolDone(result)
			printer.Tool(call, result)
		}),
		loop.WithLogger(a.logger),
	)
}

// finish handles an outcome: blocked turns are prompted for on a terminal
// and parked as a session otherwise. Every outcome is saved.
func (a *app) finish(ctx context.Context, ctrl *loop.Controller, sess *session.Session, outcome loop.Outcome) error {
	for {
		sess.Record(outcome)
		a.stats.Usage = sess.Usage
		a.stats.Steps = sess.State.StepIndex

		blocked, ok := outcome.(loop.Blocked)
		if !ok || !a.interactive {
			break
		}
		decisions, err := a.prompt(blocked, a.describe)
		if err != nil {
			// Keep the blocked state so the user can resume later.
			a.save(ctx, sess)
			return fmt.Errorf("approval prompt: %w", err)
		}
		if outcome, err = ctrl.Resume(ctx, blocked.State, decisions); err != nil {
			a.save(ctx, sess)
			return err
		}
	}

	a.save(ctx, sess)
	if a.showStats {
		fmt.Fprintln(a.status, a.styles().Muted.Render(a.stats.Render()))
	}

	switch o := outcome.(type) {
	case loop.Completed:
		if a.interactive {
			fmt.Fprintln(a.out, ui.RenderMarkdown(o.Response.Text, a.width))
		}
		for _, w := range o.Warnings {
			a.logger.Warn("stream warning", "warning", w)
		}
		return nil
	case loop.Blocked:
		a.printBlocked(sess, o)
		return nil
	case loop.Failed:
		if o.PartialText != "" && a.interactive {
			fmt.Fprintln(a.out, o.PartialText)
		}
		return a.withSession(sess, o.Err)
	case loop.StepBudgetExhausted:
		return a.withSession(sess, fmt.Errorf("no answer after %d steps", o.MaxSteps))
	}
	return fmt.Errorf("unexpected outcome %T", outcome)
}

func (a *app) save(ctx context.Context, sess *session.Session) {
	if a.store == nil {
		return
	}
	// Saving must survive an interrupted run.
	if err := a.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		a.logger.Warn("failed to save session", "error", err)
	}
}

func (a *app) withSession(sess *session.Session, err error) error {
	if a.store == nil || sess.ID == "" {
		return err
	}
	return fmt.Errorf("%w (session %s)", err, sess.ID)
}

func (a *app) printBlocked(sess *session.Session, blocked loop.Blocked) {
	s := a.styles()
	fmt.Fprintln(a.status, s.Warning.Render("Tool calls need approval:"))
	for _, call := range blocked.Calls() {
		mark := " "
		if blocked.IsFlagged(call.ID) {
			mark = "*"
		}
		fmt.Fprintf(a.status, "  %s %s  %s\n", mark, call.ID, ui.CallLabel(s, call, a.describe(call)))
	}
	if a.store == nil || sess.ID == "" {
		fmt.Fprintln(a.status, "Sessions are disabled; the blocked turn was not saved.")
		return
	}
	fmt.Fprintf(a.status, "Resume with: llmloop resume %s --approve <id>... | --approve-all\n", sess.ID)
	fmt.Fprintln(a.out, sess.ID)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return min(w, 120)
	}
	return 80
}

// readPrompt joins args, or reads stdin when the only arg is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		args = []string{string(data)}
	}
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}
