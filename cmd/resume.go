package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/loop"
	"github.com/samsaffron/llmloop/internal/session"
	"github.com/samsaffron/llmloop/internal/signal"
	"github.com/spf13/cobra"
)

var (
	resumeProvider   string
	resumeMaxSteps   int
	resumeTools      string
	resumeApprove    []string
	resumeDeny       []string
	resumeApproveAll bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Decide on a blocked session's tool calls and continue it",
	Long: `Continue a session that stopped for approval. Calls that triggered the
stop (marked * in the listing) run only when approved with --approve; the
other calls of the turn run unless named with --deny. Denied calls are
reported to the model as denied. On a terminal with no decision flags, an
approval prompt is shown with the same defaults.

Examples:
  llmloop resume 3f2a... --approve call_ab12 --deny call_cd34
  llmloop resume 3f2a... --approve-all`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	AddProviderFlag(resumeCmd, &resumeProvider)
	AddMaxStepsFlag(resumeCmd, &resumeMaxSteps)
	AddToolsFlag(resumeCmd, &resumeTools)
	resumeCmd.Flags().StringSliceVar(&resumeApprove, "approve", nil, "Tool call ids to approve")
	resumeCmd.Flags().StringSliceVar(&resumeDeny, "deny", nil, "Tool call ids to deny")
	resumeCmd.Flags().BoolVar(&resumeApproveAll, "approve-all", false, "Approve every pending call")
	resumeCmd.MarkFlagsMutuallyExclusive("approve-all", "approve")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyToolsFlag(cfg, resumeTools); err != nil {
		return err
	}
	if cfg.Sessions.Path == "" {
		return errors.New("sessions are disabled (sessions.path is empty)")
	}
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	store, err := session.NewSQLiteStore(cfg.Sessions.Path)
	if err != nil {
		return err
	}
	sess, err := store.Get(ctx, args[0])
	store.Close()
	if err != nil {
		return err
	}

	providerFlag := resumeProvider
	if providerFlag == "" {
		providerFlag = sess.Provider
		if sess.Model != "" {
			providerFlag += ":" + sess.Model
		}
	}
	a, err := newApp(ctx, cfg, providerFlag)
	if err != nil {
		return err
	}
	defer a.close()

	var decisions loop.Decisions
	if resumeApproveAll || len(resumeApprove) > 0 || len(resumeDeny) > 0 {
		decisions, err = decisionsFromFlags(sess.State.Pending, sess.Flagged, resumeApprove, resumeDeny, resumeApproveAll)
		if err != nil {
			return err
		}
	}
	return a.resume(ctx, sess, decisions, resumeMaxSteps)
}

// resume continues a blocked session. nil decisions prompt on a terminal.
func (a *app) resume(ctx context.Context, sess *session.Session, decisions loop.Decisions, maxSteps int) error {
	if sess.Status != session.StatusBlocked || len(sess.State.Pending) == 0 {
		return fmt.Errorf("session %s is %s, not blocked", sess.ID, sess.Status)
	}
	blocked := loop.Blocked{State: sess.State, Flagged: sess.Flagged}
	if decisions == nil {
		if !a.interactive {
			return errors.New("no decisions given: pass --approve, --deny or --approve-all")
		}
		var err error
		if decisions, err = a.prompt(blocked, a.describe); err != nil {
			return fmt.Errorf("approval prompt: %w", err)
		}
	}

	ctrl := a.controller(maxSteps)
	outcome, err := ctrl.Resume(ctx, sess.State, decisions)
	if err != nil {
		return err
	}
	return a.finish(ctx, ctrl, sess, outcome)
}

// decisionsFromFlags validates ids against the pending calls. Flagged
// calls not named are denied; unflagged calls not named are approved, as
// they would have run without asking.
func decisionsFromFlags(pending []llm.ToolCall, flagged, approve, deny []string, approveAll bool) (loop.Decisions, error) {
	if approveAll {
		return loop.ApproveAll(pending), nil
	}
	known := make(map[string]bool, len(pending))
	for _, c := range pending {
		known[c.ID] = true
	}
	d := make(loop.Decisions, len(pending))
	for _, c := range pending {
		if !slices.Contains(flagged, c.ID) {
			d[c.ID] = loop.Approve
		}
	}
	denied := make(map[string]bool, len(deny))
	for _, id := range deny {
		if !known[id] {
			return nil, fmt.Errorf("no pending tool call %q", id)
		}
		denied[id] = true
		d[id] = loop.Deny
	}
	for _, id := range approve {
		if !known[id] {
			return nil, fmt.Errorf("no pending tool call %q", id)
		}
		if denied[id] {
			return nil, fmt.Errorf("tool call %q is both approved and denied", id)
		}
		d[id] = loop.Approve
	}
	return d, nil
}
