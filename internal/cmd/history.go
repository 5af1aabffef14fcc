package cmd

import (
	"fmt"

	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/contextstore"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "List finished debates or show one",
	Long: `Without arguments, list the debates with a stored final report, newest
first. With a task ID, print that debate's summary.

History reads the local file store, which every driver except "none"
mirrors to.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("json", false, "print the report as JSON")
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of debates to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	files := contextstore.NewFileStore(cfg.Store.ResolveDataDir())
	reports := contextstore.NewArtifacts(files)

	if len(args) == 1 {
		res, err := reports.LoadFinal(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	}

	tasks, err := files.Tasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No finished debates in "+files.Root())
		return nil
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(cmd.OutOrStdout(), tasks)
	}
	w := cmd.OutOrStdout()
	for _, id := range tasks {
		res, err := reports.LoadFinal(cmd.Context(), id)
		if err != nil {
			fmt.Fprintf(w, "%s  %s\n", id, errorStyle.Render(err.Error()))
			continue
		}
		fmt.Fprintf(w, "%s  %s  %s\n", id, exitStyle(res.ExitState), mutedStyle.Render(truncate(res.Task.Description, 60)))
	}
	return nil
}
