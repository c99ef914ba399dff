package main

import (
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	c, err := sessionClient(cmd.Context())
	if err != nil {
		return err
	}

	if err := c.Session.Logout(cmd.Context()); err != nil {
		return fail(err, "Signed out, but the stored session could not be removed")
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Signed out")
	}
	return nil
}
