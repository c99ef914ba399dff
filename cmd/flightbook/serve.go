package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/flightbook/internal/tokenstore"
	"github.com/TheMichaelB/flightbook/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web shell",
	Long: `Serve runs the browser-facing shell. Each visitor gets its own
session, kept in the configured token store under a cookie id.`,
	Example: `  flightbook serve --addr :3000`,
	RunE:    runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (overrides web.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Web.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := tokenstore.OpenKV(ctx, &cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer kv.Close()

	srv, err := web.New(cfg, kv, logger)
	if err != nil {
		return err
	}

	if !jsonOutput {
		printInfo("Web shell on %s (API %s)", cfg.Web.Addr, cfg.API.BaseURL)
	}
	return srv.ListenAndServe(ctx)
}
