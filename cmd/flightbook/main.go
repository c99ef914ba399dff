// Command flightbook signs in to the flight booking API, shows the
// dashboard from a terminal and runs the web shell.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(rootCmd, nil)

		var r *reportedError
		if !errors.As(err, &r) {
			if jsonOutput {
				printJSON(map[string]interface{}{
					"success": false,
					"error":   err.Error(),
				})
			} else {
				printError("%v", err)
			}
		}
		os.Exit(1)
	}
}
