package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/flightbook/internal/client"
	"github.com/TheMichaelB/flightbook/internal/guard"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/session"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show flights and your bookings",
	RunE:  runDashboard,
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Show every booking (admin role required)",
	RunE:  runAdmin,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// guarded restores the session and applies the route guard for path.
func guarded(ctx context.Context, role, path string) (*client.Client, error) {
	c, err := sessionClient(ctx)
	if err != nil {
		return nil, err
	}

	decision := guard.Check(c.Session.Snapshot(), role, path)
	switch decision.Action {
	case guard.RedirectLogin:
		return nil, fail(decision.Err(), "Not signed in. Run \"flightbook login\" first.")
	case guard.RedirectUnauthorized:
		return nil, fail(decision.Err(), "Access denied: "+decision.Err().Error())
	}
	return c, nil
}

// sessionLost reports a request failure, pointing at login when the
// session expired underneath it.
func sessionLost(c *client.Client, err error, fallback string) error {
	if snap := c.Session.Snapshot(); snap.Expired {
		return fail(err, snap.Error)
	}
	return fail(err, models.Message(err, fallback))
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := guarded(ctx, "", guard.DefaultPath)
	if err != nil {
		return err
	}

	flights, err := c.Flights.ListFlights(ctx)
	if err != nil {
		return sessionLost(c, err, "Failed to load flights")
	}
	bookings, err := c.Flights.ListBookings(ctx)
	if err != nil {
		return sessionLost(c, err, "Failed to load bookings")
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"user":     c.Session.CurrentUser().Username,
			"flights":  flights,
			"bookings": bookings,
		})
		return nil
	}

	printInfo("Welcome back, %s", c.Session.CurrentUser().Username)
	fmt.Println()
	printFlights(flights)
	fmt.Println()
	printBookings(bookings, flights, false)
	return nil
}

func runAdmin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := guarded(ctx, cfg.Auth.AdminRole, "/admin")
	if err != nil {
		return err
	}

	flights, err := c.Flights.ListFlights(ctx)
	if err != nil {
		return sessionLost(c, err, "Failed to load flights")
	}
	bookings, err := c.Flights.ListAllBookings(ctx)
	if err != nil {
		return sessionLost(c, err, "Failed to load bookings")
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"bookings": bookings})
		return nil
	}

	printInfo("All bookings (%d)", len(bookings))
	printBookings(bookings, flights, true)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	c, err := sessionClient(cmd.Context())
	if err != nil {
		return err
	}
	snap := c.Session.Snapshot()

	if jsonOutput {
		printJSON(map[string]interface{}{
			"state":    snap.State,
			"username": username(snap),
			"roles":    snap.Roles(),
			"admin":    snap.IsAdmin(),
		})
		return nil
	}

	if !snap.IsAuthenticated() {
		printWarning("Not signed in")
		return nil
	}
	printInfo("%s <%s>", snap.User.Username, snap.User.Email)
	printInfo("Roles: %s", strings.Join(snap.Roles(), ", "))
	if snap.IsAdmin() {
		printInfo("Administrator")
	}
	return nil
}

func username(snap session.Snapshot) string {
	if !snap.IsAuthenticated() {
		return ""
	}
	return snap.User.Username
}

func printFlights(flights []models.Flight) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FLIGHT\tFROM\tTO\tDEPARTS\tSEATS\tPRICE")
	for _, f := range flights {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\n",
			f.FlightNumber, f.Origin, f.Destination,
			f.DepartureTime.Format("2006-01-02 15:04"), f.SeatsLeft, f.Price)
	}
	_ = w.Flush()
}

func printBookings(bookings []models.Booking, flights []models.Flight, withUser bool) {
	if len(bookings) == 0 {
		printInfo("No bookings")
		return
	}

	numbers := make(map[int64]string, len(flights))
	for _, f := range flights {
		numbers[f.ID] = f.FlightNumber
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if withUser {
		fmt.Fprintln(w, "BOOKING\tUSER\tFLIGHT\tSEATS\tSTATUS")
	} else {
		fmt.Fprintln(w, "BOOKING\tFLIGHT\tSEATS\tSTATUS")
	}
	for _, b := range bookings {
		if withUser {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", b.ID, b.Username, numbers[b.FlightID], b.Seats, b.Status)
		} else {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", b.ID, numbers[b.FlightID], b.Seats, b.Status)
		}
	}
	_ = w.Flush()
}
