package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/flightbook/internal/forms"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Long: `Register creates an account. It does not sign in; run
"flightbook login" afterwards.`,
	Example: `  flightbook register --username ada --email ada@example.com
  flightbook register --username root --email root@example.com --role admin`,
	RunE: runRegister,
}

var (
	registerUsername string
	registerEmail    string
	registerPassword string
	registerRole     string
)

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().StringVarP(&registerUsername, "username", "u", "",
		"Username (required)")
	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "",
		"Email address (required)")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "",
		"Password (will prompt if not provided)")
	registerCmd.Flags().StringVar(&registerRole, "role", "user",
		"Account role: user or admin")

	_ = registerCmd.MarkFlagRequired("username")
	_ = registerCmd.MarkFlagRequired("email")
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if registerPassword == "" {
		var err error
		if registerPassword, err = promptPassword("Password: "); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	req, err := forms.Register(registerUsername, registerEmail, registerPassword, registerRole)
	if err != nil {
		return fail(err, err.Error())
	}

	c, err := sessionClient(ctx)
	if err != nil {
		return err
	}

	msg, err := c.Session.Register(ctx, req)
	if err != nil {
		return fail(err, c.Session.Snapshot().Error)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"username": req.Username,
			"message":  msg,
		})
	} else {
		printSuccess("%s", msg)
		printInfo("Sign in with: flightbook login --username %s", req.Username)
	}
	return nil
}
