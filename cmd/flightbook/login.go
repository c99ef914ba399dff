package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/flightbook/internal/creds"
	"github.com/TheMichaelB/flightbook/internal/forms"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/services/totp"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the booking service",
	Long: `Login signs in and stores the session tokens for later commands.

When the account has two-factor authentication enabled the verification
code is prompted for, or generated from a TOTP secret given with --totp or
found in the configured credentials source.`,
	Example: `  flightbook login --username demo
  flightbook login --username pilot --totp 123456
  flightbook login --username pilot --totp JBSWY3DPEHPK3PXP`,
	RunE: runLogin,
}

var (
	loginUsername string
	loginPassword string
	loginTOTP     string
)

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "",
		"Username (will prompt if not provided)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Password (will prompt if not provided)")
	loginCmd.Flags().StringVar(&loginTOTP, "totp", "",
		"Verification code, or a TOTP secret to generate one from")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Fill anything not given on the command line from the credentials source
	if loginUsername == "" || loginPassword == "" || loginTOTP == "" {
		c, err := creds.Load(ctx, &cfg.Auth)
		switch {
		case err == nil:
			if loginUsername == "" {
				loginUsername = c.Username()
			}
			if loginPassword == "" {
				loginPassword = c.Auth.Password
			}
			if loginTOTP == "" && c.HasTOTP() {
				loginTOTP = c.Auth.TOTPSecret
			}
		case !errors.Is(err, creds.ErrNoSource):
			logger.WithError(err).Warn("Failed to load stored credentials")
		}
	}

	var err error
	if loginUsername == "" {
		if loginUsername, err = promptLine("Username: "); err != nil {
			return fmt.Errorf("read username: %w", err)
		}
	}
	if loginPassword == "" {
		if loginPassword, err = promptPassword("Password: "); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	credentials, err := forms.Login(models.Credentials{
		Username: loginUsername,
		Password: loginPassword,
	})
	if err != nil {
		return fail(err, err.Error())
	}

	c, err := sessionClient(ctx)
	if err != nil {
		return err
	}

	record, err := c.Session.Login(ctx, credentials)
	if err != nil {
		return fail(err, c.Session.Snapshot().Error)
	}

	if record.MFARequired {
		code, err := verificationCode(loginTOTP)
		if err != nil {
			c.Session.CancelTwoFactor()
			return err
		}

		req, err := forms.TwoFactor(code)
		if err != nil {
			c.Session.CancelTwoFactor()
			return fail(err, err.Error())
		}

		if record, err = c.Session.VerifyTwoFactorCode(ctx, "", req); err != nil {
			return fail(err, c.Session.Snapshot().Error)
		}
	}

	// Success
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"username": record.Username,
			"roles":    record.Roles,
		})
	} else {
		printSuccess("Signed in as %s", record.Username)
	}
	return nil
}

// verificationCode returns value when it already is a code, generates one
// when value is a TOTP secret and prompts otherwise.
func verificationCode(value string) (string, error) {
	totpService := totp.NewService()

	if value == "" {
		if jsonOutput {
			return "", fail(models.ErrMFARequired, "Two-factor verification required: pass --totp")
		}
		code, err := promptLine("Verification code: ")
		if err != nil {
			return "", fmt.Errorf("read verification code: %w", err)
		}
		return code, nil
	}
	if totpService.IsWellFormed(value) {
		return value, nil
	}

	if err := totpService.IsValidSecret(value); err != nil {
		return "", fail(err, fmt.Sprintf("Invalid TOTP secret: %v", err))
	}

	code, err := totpService.GenerateCode(value)
	if err != nil {
		return "", fmt.Errorf("generate totp: %w", err)
	}

	if !jsonOutput {
		_, remaining := totpService.GetTimeWindow()
		printInfo("Generated verification code %s (valid for %v)", code, remaining.Round(time.Second))
	}
	return code, nil
}
