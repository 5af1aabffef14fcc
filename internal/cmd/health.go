package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check every configured backend",
	Long: `Authenticate each enabled backend and send it a short health check
prompt, reporting latency and the model that answered.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().Bool("json", false, "print the report as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.checkHealth(cmd.Context(), a.cfg)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		renderHealth(cmd.OutOrStdout(), report)
	}

	for _, h := range report {
		if h.Available {
			return nil
		}
	}
	return fmt.Errorf("no backend is available")
}
