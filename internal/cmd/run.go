package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/contextstore"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/event"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Debate a task until the backends agree",
	Long: `Run a full debate: every backend analyzes the task, the answers are
compared, and rounds of cross-review and debate continue until consensus
is reached, every strategy is exhausted, or the run is interrupted.

Press Ctrl-C once to stop after the current round, twice to abort.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
	runCmd.Flags().Int("max-rounds", 0, "maximum number of rounds (default from config)")
}

// addRunFlags registers the flags run and verify share.
func addRunFlags(c *cobra.Command) {
	c.Flags().Bool("strict", false, "require the configured minimum number of backends")
	c.Flags().Bool("include-self", true, "include the local claude CLI as a participant")
	c.Flags().Bool("json", false, "print the result as JSON")
	c.Flags().Bool("quiet", false, "suppress round progress")
}

// applyRunFlags overrides cfg with flags the user set explicitly.
func applyRunFlags(c *cobra.Command, cfg *config.Config) {
	flags := c.Flags()
	if flags.Changed("strict") {
		cfg.Pool.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("include-self") {
		cfg.Debate.IncludeSelf, _ = flags.GetBool("include-self")
	}
	if flags.Lookup("max-rounds") != nil && flags.Changed("max-rounds") {
		cfg.Debate.MaxRounds, _ = flags.GetInt("max-rounds")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))

	a, err := newApp(cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.Close()
	applyRunFlags(cmd, a.cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := contextstore.New(ctx, a.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	bus := event.NewBus(a.logger)
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		progress(cmd.ErrOrStderr(), bus)
	}

	p, err := a.newPool(ctx, a.cfg, bus)
	if err != nil {
		return err
	}
	defer p.Close()

	orch := debate.New(p, store, a.debateOptions(a.cfg, bus)...)
	done := make(chan struct{})
	defer close(done)
	go interruptible(cmd, orch, cancel, done)

	res, err := orch.Run(ctx, task)
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

// interruptible cancels the run gracefully on the first interrupt and
// aborts in-flight calls on the second.
func interruptible(cmd *cobra.Command, orch *debate.Orchestrator, abort context.CancelFunc, done <-chan struct{}) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
		fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("stopping after the current round, interrupt again to abort"))
		orch.Cancel()
	case <-done:
		return
	}
	select {
	case <-sig:
		abort()
	case <-done:
	}
}

func printResult(cmd *cobra.Command, res *debate.RunResult) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	renderResult(cmd.OutOrStdout(), res)
	return nil
}
