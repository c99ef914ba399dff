package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/transport"
)

// Endpoint paths relative to the API base URL.
const (
	PathSignIn        = "/auth/signin"
	PathVerify2FA     = "/auth/verify-2fa"
	PathSignUp        = "/auth/signup"
	PathRequestReset  = "/auth/request-password-reset"
	PathResetPassword = "/auth/reset-password"
)

// SessionStore is the token store surface the service writes to.
type SessionStore interface {
	Save(ctx context.Context, record *models.SessionRecord) error
	Clear(ctx context.Context) error
	ClearEphemeral(ctx context.Context) error
	Read(ctx context.Context) (*models.SessionRecord, error)
}

// Service maps session operations onto the remote auth endpoints. Transport
// failures are returned to the caller as they arrive.
type Service struct {
	transport transport.Doer
	store     SessionStore
	adminRole string
	logger    *events.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAdminRole overrides the role that IsAdmin checks for.
func WithAdminRole(role string) Option {
	return func(s *Service) {
		if role != "" {
			s.adminRole = role
		}
	}
}

// NewService creates an auth service.
func NewService(doer transport.Doer, store SessionStore, logger *events.Logger, opts ...Option) *Service {
	s := &Service{
		transport: doer,
		store:     store,
		adminRole: models.RoleAdmin,
		logger:    logger.WithField("service", "auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignIn submits credentials. When no second factor is required the
// returned session is persisted before SignIn returns.
func (s *Service) SignIn(ctx context.Context, creds models.Credentials) (*models.SessionRecord, error) {
	s.logger.WithField("username", creds.Username).Info("Signing in")

	var record models.SessionRecord
	if err := transport.PostPublic(ctx, s.transport, PathSignIn, nil, creds, &record); err != nil {
		return nil, err
	}

	if record.MFARequired {
		// A session from an earlier sign-in must not outlive the new
		// attempt; the pending challenge carries no user.
		if err := s.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("discard previous session: %w", err)
		}
		s.logger.WithField("username", creds.Username).Info("Two-factor verification required")
		return &record, nil
	}

	if err := s.store.Save(ctx, &record); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.logger.WithField("username", record.Username).Info("Signed in")
	return &record, nil
}

// VerifyTwoFactor completes a sign-in that required a second factor and
// persists the resulting session.
func (s *Service) VerifyTwoFactor(ctx context.Context, username, code string) (*models.SessionRecord, error) {
	s.logger.WithField("username", username).Debug("Verifying two-factor code")

	var record models.SessionRecord
	err := transport.PostPublic(ctx, s.transport, PathVerify2FA,
		url.Values{"username": {username}}, models.TwoFactorRequest{Code: code}, &record)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, &record); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.logger.WithField("username", record.Username).Info("Two-factor verification succeeded")
	return &record, nil
}

// SignUp registers an account. It does not sign the user in.
func (s *Service) SignUp(ctx context.Context, req models.SignupRequest) (string, error) {
	s.logger.WithFields(map[string]interface{}{
		"username": req.Username,
		"roles":    req.Role,
	}).Info("Registering account")

	var resp models.MessageResponse
	if err := transport.PostPublic(ctx, s.transport, PathSignUp, nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// RequestPasswordReset asks the API to email a reset link.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	s.logger.Info("Requesting password reset")

	var resp models.MessageResponse
	err := transport.PostPublic(ctx, s.transport, PathRequestReset,
		url.Values{"email": {email}}, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ConfirmPasswordReset sets a new password using the emailed token.
func (s *Service) ConfirmPasswordReset(ctx context.Context, req models.PasswordResetRequest) (string, error) {
	s.logger.Info("Confirming password reset")

	var resp models.MessageResponse
	if err := transport.PostPublic(ctx, s.transport, PathResetPassword, nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Logout clears the persisted session and any session-scoped values. No
// server call is made.
func (s *Service) Logout(ctx context.Context) error {
	s.logger.Info("Logging out")

	return errors.Join(
		s.store.Clear(ctx),
		s.store.ClearEphemeral(ctx),
	)
}

// CurrentUser returns the persisted session, or nil.
func (s *Service) CurrentUser(ctx context.Context) (*models.SessionRecord, error) {
	return s.store.Read(ctx)
}

// IsLoggedIn reports whether a session with an access token is stored.
func (s *Service) IsLoggedIn(ctx context.Context) bool {
	record, err := s.store.Read(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read session")
		return false
	}
	return record.IsAuthenticated()
}

// HasRole reports whether the stored session carries role.
func (s *Service) HasRole(ctx context.Context, role string) bool {
	record, err := s.store.Read(ctx)
	if err != nil {
		return false
	}
	return record.HasRole(role)
}

// IsAdmin reports whether the stored session carries the admin role.
func (s *Service) IsAdmin(ctx context.Context) bool {
	return s.HasRole(ctx, s.adminRole)
}

// AdminRole returns the configured admin role.
func (s *Service) AdminRole() string {
	return s.adminRole
}
