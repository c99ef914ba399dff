// Package devapi is an in-memory stand-in for the booking API. It serves
// the auth, flight and booking endpoints the client talks to, for local
// development and tests.
package devapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/services/totp"
)

const (
	resetTokenTTL = time.Hour
	mfaWindow     = 5 * time.Minute
)

// ResetNotifier receives the link a password reset email would carry.
type ResetNotifier func(email, link string)

// Server holds every account, token and booking in memory.
type Server struct {
	cfg        config.DevAPIConfig
	logger     *events.Logger
	tokens     *tokenIssuer
	otp        *totp.DefaultService
	now        func() time.Time
	notify     ResetNotifier
	bcryptCost int

	mu       sync.RWMutex
	nextID   int64
	accounts map[string]*account
	refresh  map[string]grant
	resets   map[string]grant
	pending  map[string]grant
	flights  []models.Flight
	bookings []models.Booking
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for token issue and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithResetNotifier receives reset links instead of the log.
func WithResetNotifier(fn ResetNotifier) Option {
	return func(s *Server) {
		s.notify = fn
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

// New creates a server with the default flight schedule and no accounts.
func New(cfg *config.DevAPIConfig, logger *events.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:        *cfg,
		logger:     logger.WithField("component", "devapi"),
		otp:        totp.NewService(),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
		accounts:   make(map[string]*account),
		refresh:    make(map[string]grant),
		resets:     make(map[string]grant),
		pending:    make(map[string]grant),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notify == nil {
		s.notify = func(email, link string) {
			s.logger.WithFields(map[string]interface{}{
				"email": email,
				"link":  link,
			}).Info("Password reset requested")
		}
	}

	s.tokens = &tokenIssuer{
		secret:    []byte(cfg.JWTSecret),
		accessTTL: cfg.AccessTokenTTL,
		now:       s.now,
	}
	s.flights = schedule(s.now())
	return s
}

// Routes returns the HTTP handler. Endpoints live under /api.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(events.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signin", s.handleSignIn)
			r.Post("/verify-2fa", s.handleVerifyTwoFactor)
			r.Post("/signup", s.handleSignUp)
			r.Post("/refresh-token", s.handleRefresh)
			r.Post("/request-password-reset", s.handleRequestReset)
			r.Post("/reset-password", s.handleResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/flights", s.handleFlights)
			r.Get("/bookings", s.handleBookings)
			r.With(requireRole(models.RoleAdmin)).Get("/admin/bookings", s.handleAllBookings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	return r
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.WithField("addr", s.cfg.Addr).Info("Development API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// SeedDemo creates the demo accounts: demo (user), admin (admin) and
// pilot (user with two-factor). All use the password "password". The
// pilot TOTP secret is returned so it can be put in an authenticator.
func (s *Server) SeedDemo() (string, error) {
	seeds := []struct {
		username string
		roles    []string
	}{
		{"demo", []string{"user"}},
		{"admin", []string{"admin"}},
		{"pilot", []string{"user"}},
	}
	for _, seed := range seeds {
		if err := s.AddAccount(seed.username, seed.username+"@flightbook.test", "password", seed.roles); err != nil {
			return "", fmt.Errorf("seed %s: %w", seed.username, err)
		}
	}

	enrollment, err := s.EnableTwoFactor("pilot")
	if err != nil {
		return "", fmt.Errorf("enroll pilot: %w", err)
	}

	s.mu.Lock()
	for i, username := range []string{"demo", "pilot", "demo"} {
		f := s.flights[i%len(s.flights)]
		s.bookings = append(s.bookings, models.Booking{
			ID:        int64(len(s.bookings) + 1),
			FlightID:  f.ID,
			Username:  username,
			Seats:     i + 1,
			Status:    "CONFIRMED",
			CreatedAt: s.now(),
		})
	}
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"accounts":    "demo, admin, pilot",
		"totp_secret": enrollment.Secret,
	}).Info("Seeded demo accounts")
	return enrollment.Secret, nil
}

// schedule is the fixed set of flights offered, departing after now.
func schedule(now time.Time) []models.Flight {
	day := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	legs := []struct {
		number, from, to string
		depart, length   time.Duration
		seats            int
		price            float64
	}{
		{"FB101", "LHR", "JFK", 9 * time.Hour, 8 * time.Hour, 42, 489.00},
		{"FB202", "JFK", "SFO", 13 * time.Hour, 6 * time.Hour, 17, 259.50},
		{"FB303", "CDG", "FCO", 31 * time.Hour, 2 * time.Hour, 88, 119.99},
		{"FB404", "SIN", "SYD", 55 * time.Hour, 8 * time.Hour, 5, 612.00},
	}

	flights := make([]models.Flight, 0, len(legs))
	for i, leg := range legs {
		departure := day.Add(leg.depart)
		flights = append(flights, models.Flight{
			ID:            int64(i + 1),
			FlightNumber:  leg.number,
			Origin:        leg.from,
			Destination:   leg.to,
			DepartureTime: departure,
			ArrivalTime:   departure.Add(leg.length),
			SeatsLeft:     leg.seats,
			Price:         leg.price,
		})
	}
	return flights
}
