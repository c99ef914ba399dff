package devapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
)

// Response messages.
const (
	MsgRegistered        = "User registered successfully!"
	MsgUsernameTaken     = "Error: Username is already taken!"
	MsgEmailTaken        = "Error: Email is already in use!"
	MsgBadCredentials    = "Invalid username or password"
	MsgBadCode           = "Invalid verification code"
	MsgNoChallenge       = "No two-factor verification is pending for this user"
	MsgRefreshInvalid    = "Refresh token is invalid or expired. Please sign in again"
	MsgResetSent         = "If the email is registered, a password reset link has been sent"
	MsgResetDone         = "Password has been reset successfully"
	MsgResetTokenInvalid = "Invalid or expired password reset token"
	MsgPasswordTooShort  = "Password must be at least 6 characters"
	MsgUnauthorized      = "Full authentication is required to access this resource"
	MsgForbidden         = "Access denied"
)

const minPasswordLength = 6

type claimsKey struct{}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.MessageResponse{Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return false
	}
	return true
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !decode(w, r, &creds) {
		return
	}

	acct, err := s.authenticate(creds.Username, creds.Password)
	if err != nil {
		events.FromContext(r.Context()).WithField("username", creds.Username).Info("Rejected sign-in")
		writeError(w, http.StatusUnauthorized, MsgBadCredentials)
		return
	}

	if acct.totpSecret != "" {
		s.mu.Lock()
		s.pending[acct.username] = grant{username: acct.username, expires: s.now().Add(mfaWindow)}
		s.mu.Unlock()

		record := acct.record()
		record.MFARequired = true
		writeJSON(w, http.StatusOK, record)
		return
	}

	s.writeSession(w, r, acct)
}

func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")

	var req models.TwoFactorRequest
	if !decode(w, r, &req) {
		return
	}

	if _, ok := s.takeGrant(s.pending, username, false); !ok {
		writeError(w, http.StatusUnauthorized, MsgNoChallenge)
		return
	}

	s.mu.RLock()
	acct := s.accounts[username]
	s.mu.RUnlock()

	if acct == nil || !s.otp.ValidateCode(acct.totpSecret, strings.TrimSpace(req.Code)) {
		writeError(w, http.StatusUnauthorized, MsgBadCode)
		return
	}

	s.takeGrant(s.pending, username, true)
	s.writeSession(w, r, acct)
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, acct *account) {
	record, err := s.session(acct)
	if err != nil {
		events.FromContext(r.Context()).WithError(err).Error("Failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "Could not sign in")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if !decode(w, r, &req) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username, email and password are required")
		return
	}

	err := s.AddAccount(req.Username, req.Email, req.Password, req.Role)
	switch {
	case errors.Is(err, errUsernameTaken):
		writeError(w, http.StatusBadRequest, MsgUsernameTaken)
	case errors.Is(err, errEmailTaken):
		writeError(w, http.StatusBadRequest, MsgEmailTaken)
	case err != nil:
		events.FromContext(r.Context()).WithError(err).Error("Failed to register account")
		writeError(w, http.StatusInternalServerError, "Registration failed")
	default:
		events.FromContext(r.Context()).WithField("username", req.Username).Info("Registered account")
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: MsgRegistered})
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	g, ok := s.takeGrant(s.refresh, req.RefreshToken, false)
	if !ok {
		writeError(w, http.StatusForbidden, MsgRefreshInvalid)
		return
	}

	s.mu.RLock()
	acct := s.accounts[g.username]
	s.mu.RUnlock()
	if acct == nil {
		writeError(w, http.StatusForbidden, MsgRefreshInvalid)
		return
	}

	access, err := s.tokens.issue(acct.username, acct.roles)
	if err != nil {
		events.FromContext(r.Context()).WithError(err).Error("Failed to issue access token")
		writeError(w, http.StatusInternalServerError, "Could not refresh token")
		return
	}

	writeJSON(w, http.StatusOK, models.RefreshResponse{
		Token:        access,
		RefreshToken: req.RefreshToken,
		Type:         "Bearer",
	})
}

func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	s.mu.Lock()
	acct := s.findByEmailLocked(email)
	var token string
	if acct != nil {
		token = uuid.NewString()
		s.resets[token] = grant{username: acct.username, expires: s.now().Add(resetTokenTTL)}
	}
	s.mu.Unlock()

	if acct != nil {
		query := url.Values{"token": {token}, "email": {acct.email}}
		s.notify(acct.email, s.cfg.ResetURL+"?"+query.Encode())
	}

	writeJSON(w, http.StatusOK, models.MessageResponse{Message: MsgResetSent})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordResetRequest
	if !decode(w, r, &req) {
		return
	}

	if len(req.NewPassword) < minPasswordLength {
		writeError(w, http.StatusBadRequest, MsgPasswordTooShort)
		return
	}

	g, ok := s.takeGrant(s.resets, req.Token, false)
	if !ok {
		writeError(w, http.StatusBadRequest, MsgResetTokenInvalid)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.bcryptCost)
	if err != nil {
		events.FromContext(r.Context()).WithError(err).Error("Failed to hash password")
		writeError(w, http.StatusInternalServerError, "Password reset failed")
		return
	}

	s.mu.Lock()
	acct := s.accounts[g.username]
	matches := acct != nil && strings.EqualFold(acct.email, strings.TrimSpace(req.Email))
	if matches {
		acct.hash = hash
		delete(s.resets, req.Token)
	}
	s.mu.Unlock()

	if !matches {
		writeError(w, http.StatusBadRequest, MsgResetTokenInvalid)
		return
	}

	s.revokeRefresh(g.username)
	events.FromContext(r.Context()).WithField("username", g.username).Info("Password reset")
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: MsgResetDone})
}

func (s *Server) handleFlights(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	flights := slices.Clone(s.flights)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, flights)
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	s.mu.RLock()
	bookings := []models.Booking{}
	for _, b := range s.bookings {
		if b.Username == claims.Username {
			bookings = append(bookings, b)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, bookings)
}

func (s *Server) handleAllBookings(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	bookings := append([]models.Booking{}, s.bookings...)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, bookings)
}

// requireAuth accepts a valid bearer access token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, MsgUnauthorized)
			return
		}

		claims, err := s.tokens.parse(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, MsgUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(claimsFrom(r.Context()).Roles, role) {
				writeError(w, http.StatusForbidden, MsgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFrom(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return c
	}
	return &Claims{}
}
