package cmd

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/concord/internal/contextstore"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/event"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <task>",
	Short: "Analyze a task once and report agreement",
	Long: `Verify runs a single analysis round and compares the answers without
any review or debate. The round is saved to the context store like a run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	addRunFlags(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.Close()
	applyRunFlags(cmd, a.cfg)

	store, err := contextstore.New(cmd.Context(), a.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	bus := event.NewBus(a.logger)
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		progress(cmd.ErrOrStderr(), bus)
	}
	p, err := a.newPool(cmd.Context(), a.cfg, bus)
	if err != nil {
		return err
	}
	defer p.Close()

	orch := debate.New(p, store, a.debateOptions(a.cfg, bus)...)
	res, err := orch.Verify(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}
