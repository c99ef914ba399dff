// Package web serves the booking pages to browsers. Every visitor gets
// its own session manager over a shared token store backend.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/guard"
	"github.com/TheMichaelB/flightbook/internal/session"
	"github.com/TheMichaelB/flightbook/internal/tokenstore"
	"github.com/TheMichaelB/flightbook/internal/transport"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTitles = map[string]string{
	"landing":         "Welcome",
	"login":           "Sign in",
	"register":        "Register",
	"forgot_password": "Forgot password",
	"reset_password":  "Reset password",
	"unauthorized":    "Access denied",
	"dashboard":       "Dashboard",
	"admin":           "Admin",
}

// Server is the browser-facing shell.
type Server struct {
	cfg      *config.Config
	logger   *events.Logger
	visitors *visitors
	pages    map[string]*template.Template
	guard    *guard.Middleware
	cors     *cors.Cors
	upgrader websocket.Upgrader
}

// New creates a server whose visitors share kv.
func New(cfg *config.Config, kv tokenstore.KV, logger *events.Logger) (*Server, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	logger = logger.WithField("component", "web")
	base := transport.NewHTTPClient(&cfg.API, nil, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		visitors: newVisitors(cfg, kv, base, logger),
		pages:    pages,
	}

	s.guard = guard.NewMiddleware(s.snapshot, s.remember, nil)
	s.cors = cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			return slices.Contains(cfg.Web.AllowedOrigins, origin)
		},
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: true,
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func parsePages() (map[string]*template.Template, error) {
	layout, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages := make(map[string]*template.Template, len(pageTitles))
	for name := range pageTitles {
		clone, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout: %w", err)
		}
		if pages[name], err = clone.ParseFS(templateFS, "templates/"+name+".html"); err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
	}
	return pages, nil
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(events.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.visitors.middleware)

		r.Get("/", s.handleLanding)
		r.Get("/login", s.handleLoginPage)
		r.Post("/login", s.handleLogin)
		r.Post("/login/2fa", s.handleTwoFactor)
		r.Post("/login/cancel", s.handleCancelTwoFactor)
		r.Get("/register", s.handleRegisterPage)
		r.Post("/register", s.handleRegister)
		r.Get("/forgot-password", s.handleForgotPasswordPage)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Get("/reset-password", s.handleResetPasswordPage)
		r.Post("/reset-password", s.handleResetPassword)
		r.Get("/unauthorized", s.handleUnauthorized)
		r.Post("/logout", s.handleLogout)

		r.With(s.guard.Require("")).Get("/dashboard", s.handleDashboard)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.guard.Require(s.cfg.Auth.AdminRole))
			r.Get("/", s.handleAdmin)
			r.Get("/*", s.handleAdmin)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(s.cors.Handler)
			r.Get("/session", s.handleSessionJSON)
		})
		r.Get("/ws/session", s.handleSessionStream)
	})

	// Unknown pages go to the dashboard, which sends anonymous visitors on
	// to sign in.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, guard.DefaultPath, http.StatusSeeOther)
	})
	return r
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Web.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.Web.ReadTimeout,
		WriteTimeout: s.cfg.Web.WriteTimeout,
	}

	go s.visitors.run(ctx, s.cfg.Web.VisitorTTL)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.WithFields(map[string]interface{}{
		"addr": s.cfg.Web.Addr,
		"api":  s.cfg.API.BaseURL,
	}).Info("Web shell listening")

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

func (s *Server) snapshot(r *http.Request) session.Snapshot {
	return visitorFrom(r).client.Session.Snapshot()
}

func (s *Server) remember(r *http.Request, location string) {
	if err := visitorFrom(r).client.Store.SetReturnTo(r.Context(), location); err != nil {
		events.FromContext(r.Context()).WithError(err).Warn("Failed to remember return location")
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.Web.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
