package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/flightbook/internal/client"
	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
)

var rootCmd = &cobra.Command{
	Use:   "flightbook",
	Short: "Flight booking session client",
	Long: `Flightbook signs in to the booking API and keeps the session in a
local token store. The same session drives the terminal views and the
web shell started with "flightbook serve".`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

var (
	cfgFile    string
	envFile    string
	jsonOutput bool
	verbose    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default ./flightbook.yaml or ~/.config/flightbook)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Dotenv file read before the environment")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewLoader(cfgFile).WithEnvFile(envFile).Load()
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Level = "debug"
	}
	if jsonOutput {
		color.NoColor = true
	}

	if err := loaded.EnsureDirectories(); err != nil {
		return err
	}

	logger, err = events.NewLogger(&loaded.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)
	cfg = loaded
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if apiClient == nil {
		return nil
	}
	err := apiClient.Close()
	apiClient = nil
	return err
}

// sessionClient opens the token store and restores any saved session.
func sessionClient(ctx context.Context) (*client.Client, error) {
	if apiClient != nil {
		return apiClient, nil
	}

	c, err := client.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Session.Init(ctx)

	apiClient = c
	return c, nil
}

// reportedError marks an error the command already printed.
type reportedError struct {
	err error
}

func (r *reportedError) Error() string { return r.err.Error() }
func (r *reportedError) Unwrap() error { return r.err }

// fail prints msg (or err as JSON) and returns err marked as reported.
func fail(err error, msg string) error {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": false,
			"error":   msg,
		})
	} else {
		printError("%s", msg)
	}
	return &reportedError{err: err}
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, "! "+format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
