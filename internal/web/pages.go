package web

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/forms"
	"github.com/TheMichaelB/flightbook/internal/guard"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/session"
)

// Notices shown on the login page after a redirect.
const (
	NoticeRegistered    = "Registration successful. Please sign in."
	NoticePasswordReset = "Your password has been reset. Please sign in."
)

type pageData struct {
	Title   string
	Session session.Snapshot
	Form    map[string]string
	Fields  models.FieldErrors
	Error   string
	Notice  string
	From    string

	Link        forms.ResetLink
	InvalidLink bool

	RoleLabels []string
	Flights    []models.Flight
	Bookings   []models.Booking
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data *pageData) {
	if data == nil {
		data = &pageData{}
	}
	data.Session = visitorFrom(r).client.Session.Snapshot()
	if data.Title == "" {
		data.Title = pageTitles[page]
	}

	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		events.FromContext(r.Context()).WithError(err).WithField("page", page).Error("Failed to render page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func redirect(w http.ResponseWriter, r *http.Request, location string) {
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// failureStatus picks the status for a page re-rendered after a failed
// API call.
func failureStatus(err error) int {
	var fields models.FieldErrors
	if errors.As(err, &fields) {
		return http.StatusUnprocessableEntity
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}

// invalid fills data from a validation error and renders page.
func (s *Server) invalid(w http.ResponseWriter, r *http.Request, page string, data *pageData, err error) {
	if !errors.As(err, &data.Fields) {
		data.Error = err.Error()
	}
	s.render(w, r, http.StatusUnprocessableEntity, page, data)
}

// afterLogin picks the post sign-in destination: the location the guard
// remembered, else from, else the dashboard.
func (s *Server) afterLogin(r *http.Request, from string) string {
	remembered, err := visitorFrom(r).client.Store.PopReturnTo(r.Context())
	if err != nil {
		events.FromContext(r.Context()).WithError(err).Warn("Failed to read return location")
	}
	if remembered != "" {
		from = remembered
	}
	return guard.ReturnTarget(from)
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "landing", nil)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if visitorFrom(r).client.Session.IsAuthenticated() {
		redirect(w, r, s.afterLogin(r, query.Get("from")))
		return
	}

	data := &pageData{From: query.Get("from")}
	switch {
	case query.Has("registered"):
		data.Notice = NoticeRegistered
	case query.Has("reset"):
		data.Notice = NoticePasswordReset
	}
	s.render(w, r, http.StatusOK, "login", data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	manager := visitorFrom(r).client.Session

	creds, err := forms.Login(models.Credentials{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	})
	data := &pageData{
		Form: map[string]string{"username": creds.Username},
		From: r.PostFormValue("from"),
	}
	if err != nil {
		s.invalid(w, r, "login", data, err)
		return
	}

	record, err := manager.Login(r.Context(), creds)
	if err != nil {
		data.Error = manager.Snapshot().Error
		s.render(w, r, failureStatus(err), "login", data)
		return
	}

	if record.MFARequired {
		if data.From != "" {
			s.remember(r, data.From)
		}
		redirect(w, r, guard.LoginPath)
		return
	}
	redirect(w, r, s.afterLogin(r, data.From))
}

func (s *Server) handleTwoFactor(w http.ResponseWriter, r *http.Request) {
	manager := visitorFrom(r).client.Session
	if manager.Snapshot().State != session.StatePendingMFA {
		redirect(w, r, guard.LoginPath)
		return
	}

	req, err := forms.TwoFactor(r.PostFormValue("code"))
	data := &pageData{Form: map[string]string{"code": req.Code}}
	if err != nil {
		s.invalid(w, r, "login", data, err)
		return
	}

	if _, err := manager.VerifyTwoFactorCode(r.Context(), "", req); err != nil {
		data.Error = manager.Snapshot().Error
		s.render(w, r, failureStatus(err), "login", data)
		return
	}
	redirect(w, r, s.afterLogin(r, ""))
}

func (s *Server) handleCancelTwoFactor(w http.ResponseWriter, r *http.Request) {
	visitorFrom(r).client.Session.CancelTwoFactor()
	redirect(w, r, guard.LoginPath)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register", &pageData{Form: map[string]string{"role": "user"}})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	manager := visitorFrom(r).client.Session

	req, err := forms.Register(
		r.PostFormValue("username"),
		r.PostFormValue("email"),
		r.PostFormValue("password"),
		r.PostFormValue("role"),
	)
	data := &pageData{Form: map[string]string{
		"username": req.Username,
		"email":    req.Email,
		"role":     strings.ToLower(strings.TrimSpace(r.PostFormValue("role"))),
	}}
	if err != nil {
		s.invalid(w, r, "register", data, err)
		return
	}

	if _, err := manager.Register(r.Context(), req); err != nil {
		data.Error = manager.Snapshot().Error
		s.render(w, r, failureStatus(err), "register", data)
		return
	}
	redirect(w, r, guard.LoginPath+"?registered=1")
}

func (s *Server) handleForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "forgot_password", nil)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	manager := visitorFrom(r).client.Session

	email, err := forms.ForgotPassword(r.PostFormValue("email"))
	data := &pageData{Form: map[string]string{"email": email}}
	if err != nil {
		s.invalid(w, r, "forgot_password", data, err)
		return
	}

	msg, err := manager.RequestPasswordReset(r.Context(), email)
	if err != nil {
		data.Error = manager.Snapshot().Error
		s.render(w, r, failureStatus(err), "forgot_password", data)
		return
	}
	s.render(w, r, http.StatusOK, "forgot_password", &pageData{Notice: msg})
}

func (s *Server) handleResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	link, err := forms.ResetLinkFromQuery(r.URL.Query())
	if err != nil {
		s.render(w, r, http.StatusBadRequest, "reset_password", &pageData{InvalidLink: true})
		return
	}
	s.render(w, r, http.StatusOK, "reset_password", &pageData{Link: link})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	manager := visitorFrom(r).client.Session

	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "reset_password", &pageData{InvalidLink: true})
		return
	}
	link, err := forms.ResetLinkFromQuery(r.PostForm)
	if err != nil {
		s.render(w, r, http.StatusBadRequest, "reset_password", &pageData{InvalidLink: true})
		return
	}

	password := r.PostFormValue("password")
	data := &pageData{Link: link}
	if err := forms.ResetPassword(password, r.PostFormValue("confirmPassword")); err != nil {
		s.invalid(w, r, "reset_password", data, err)
		return
	}

	if _, err := manager.ResetPassword(r.Context(), link.Request(password)); err != nil {
		data.Error = manager.Snapshot().Error
		s.render(w, r, failureStatus(err), "reset_password", data)
		return
	}
	redirect(w, r, guard.LoginPath+"?reset=1")
}

func (s *Server) handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusForbidden, "unauthorized", nil)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := visitorFrom(r).client.Session.Logout(r.Context()); err != nil {
		events.FromContext(r.Context()).WithError(err).Warn("Logout left stored session behind")
	}
	redirect(w, r, guard.LoginPath)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	c := visitorFrom(r).client
	ctx := r.Context()

	data := &pageData{}
	flights, err := c.Flights.ListFlights(ctx)
	if err == nil {
		data.Flights = flights
		data.Bookings, err = c.Flights.ListBookings(ctx)
	}
	if err != nil && s.sessionLost(w, r) {
		return
	}
	if err != nil {
		data.Error = models.Message(err, "Could not load your flights")
	}

	data.RoleLabels = roleLabels(c.Session.Snapshot().Roles())
	s.render(w, r, http.StatusOK, "dashboard", data)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	c := visitorFrom(r).client

	data := &pageData{}
	bookings, err := c.Flights.ListAllBookings(r.Context())
	if err != nil && s.sessionLost(w, r) {
		return
	}
	if err != nil {
		data.Error = models.Message(err, "Could not load bookings")
	}
	data.Bookings = bookings
	s.render(w, r, http.StatusOK, "admin", data)
}

// sessionLost sends the visitor to sign in when a data call ended the
// session.
func (s *Server) sessionLost(w http.ResponseWriter, r *http.Request) bool {
	snap := visitorFrom(r).client.Session.Snapshot()
	if snap.IsAuthenticated() {
		return false
	}
	requested := r.URL.RequestURI()
	s.remember(r, requested)
	redirect(w, r, guard.Decision{Action: guard.RedirectLogin, From: requested}.Location())
	return true
}

// roleLabels turns ROLE_TRAVEL_AGENT into "Travel Agent".
func roleLabels(roles []string) []string {
	labels := make([]string, 0, len(roles))
	for _, role := range roles {
		name := strings.ReplaceAll(strings.TrimPrefix(role, "ROLE_"), "_", " ")
		labels = append(labels, cases.Title(language.English).String(strings.ToLower(name)))
	}
	return labels
}
