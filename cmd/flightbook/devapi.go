package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/flightbook/internal/devapi"
)

var devapiCmd = &cobra.Command{
	Use:   "devapi",
	Short: "Run the in-memory development API",
	Long: `Devapi serves the booking API from memory for local development.
With seeding enabled it creates the accounts demo, admin and pilot, all
with the password "password". The pilot account uses two-factor
authentication; its TOTP secret is printed at startup.`,
	Example: `  flightbook devapi --addr :8085`,
	RunE:    runDevAPI,
}

var devapiAddr string

func init() {
	rootCmd.AddCommand(devapiCmd)

	devapiCmd.Flags().StringVar(&devapiAddr, "addr", "",
		"Listen address (overrides devapi.addr)")
}

func runDevAPI(cmd *cobra.Command, args []string) error {
	if devapiAddr != "" {
		cfg.DevAPI.Addr = devapiAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devapi.New(&cfg.DevAPI, logger)

	if cfg.DevAPI.SeedDemo {
		secret, err := srv.SeedDemo()
		if err != nil {
			return err
		}
		if !jsonOutput {
			printInfo("Seeded demo, admin and pilot (password \"password\")")
			printInfo("pilot TOTP secret: %s", secret)
		}
	}

	return srv.ListenAndServe(ctx)
}
