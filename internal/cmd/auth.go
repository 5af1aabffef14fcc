package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage backend sign-in",
	Long: `Sign in to OAuth backends, sign out, and inspect stored tokens.
Tokens live in the OS keyring when available, otherwise in encrypted
files under the config directory.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login <backend>",
	Short: "Sign in to a backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <backend>",
	Short: "Revoke and forget a backend's token",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status [backend...]",
	Short: "Show stored tokens",
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	tok, err := a.auth.Login(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	who := tok.Email
	if who == "" {
		who = tok.AccountID
	}
	if who != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s signed in to %s as %s\n", successStyle.Render("✓"), args[0], who)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s signed in to %s\n", successStyle.Render("✓"), args[0])
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.auth.Logout(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed out of %s\n", args[0])
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	names := args
	if len(names) == 0 {
		names = a.auth.Providers()
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No OAuth backends configured")
		return nil
	}

	now := time.Now()
	w := cmd.OutOrStdout()
	for _, name := range names {
		tok, err := a.auth.Status(name)
		switch {
		case errors.Is(err, errors.ErrTokenNotFound):
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render(name), mutedStyle.Render("not signed in"))
			continue
		case err != nil:
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render(name), errorStyle.Render(err.Error()))
			continue
		}

		state := successStyle.Render("valid")
		switch {
		case tok.Expired(now):
			state = errorStyle.Render("expired")
		case tok.RateLimited(now):
			state = warningStyle.Render("rate limited until " + tok.RateLimitedUntil.Format(time.Kitchen))
		}
		detail := ""
		if !tok.ExpiresAt.IsZero() {
			detail = "expires " + tok.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		if tok.Email != "" {
			detail += "  " + tok.Email
		}
		fmt.Fprintf(w, "%s %s %s\n", labelStyle.Render(name), state, mutedStyle.Render(detail))
	}
	return nil
}
