package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/flightbook/internal/forms"
)

var forgotPasswordCmd = &cobra.Command{
	Use:     "forgot-password",
	Short:   "Request a password reset email",
	Example: `  flightbook forgot-password --email ada@example.com`,
	RunE:    runForgotPassword,
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Set a new password from a reset link",
	Long: `Reset-password takes the link from the reset email and sets a new
password. Links without both a token and an email are rejected before
anything is sent.`,
	Example: `  flightbook reset-password --link "http://localhost:3000/reset-password?token=...&email=..."`,
	RunE:    runResetPassword,
}

var (
	forgotEmail   string
	resetLink     string
	resetPassword string
)

func init() {
	rootCmd.AddCommand(forgotPasswordCmd)
	rootCmd.AddCommand(resetPasswordCmd)

	forgotPasswordCmd.Flags().StringVarP(&forgotEmail, "email", "e", "",
		"Account email address (required)")
	_ = forgotPasswordCmd.MarkFlagRequired("email")

	resetPasswordCmd.Flags().StringVarP(&resetLink, "link", "l", "",
		"Reset link or its query string (required)")
	resetPasswordCmd.Flags().StringVarP(&resetPassword, "password", "p", "",
		"New password (will prompt if not provided)")
	_ = resetPasswordCmd.MarkFlagRequired("link")
}

func runForgotPassword(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	email, err := forms.ForgotPassword(forgotEmail)
	if err != nil {
		return fail(err, err.Error())
	}

	c, err := sessionClient(ctx)
	if err != nil {
		return err
	}

	msg, err := c.Session.RequestPasswordReset(ctx, email)
	if err != nil {
		return fail(err, c.Session.Snapshot().Error)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "message": msg})
	} else {
		printSuccess("%s", msg)
	}
	return nil
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	link, err := forms.ParseResetLink(resetLink)
	if err != nil {
		return fail(err, "Invalid reset link. Please request a new one.")
	}

	confirm := resetPassword
	if resetPassword == "" {
		if resetPassword, err = promptPassword("New password: "); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if confirm, err = promptPassword("Confirm password: "); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	if err := forms.ResetPassword(resetPassword, confirm); err != nil {
		return fail(err, err.Error())
	}

	c, err := sessionClient(ctx)
	if err != nil {
		return err
	}

	msg, err := c.Session.ResetPassword(ctx, link.Request(resetPassword))
	if err != nil {
		return fail(err, c.Session.Snapshot().Error)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "message": msg})
	} else {
		printSuccess("%s", msg)
		printInfo("Sign in with: flightbook login")
	}
	return nil
}
