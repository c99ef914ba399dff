package session

import (
	"context"
	"errors"
	"sync"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
)

// Fallback messages when a failure carries nothing user-facing.
const (
	MsgLoginFailed        = "Login failed"
	MsgTwoFactorFailed    = "2FA verification failed"
	MsgRegisterFailed     = "Registration failed"
	MsgResetRequestFailed = "Password reset request failed"
	MsgResetFailed        = "Password reset failed"
)

// Authenticator is the auth service surface the manager drives.
type Authenticator interface {
	SignIn(ctx context.Context, creds models.Credentials) (*models.SessionRecord, error)
	VerifyTwoFactor(ctx context.Context, username, code string) (*models.SessionRecord, error)
	SignUp(ctx context.Context, req models.SignupRequest) (string, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ConfirmPasswordReset(ctx context.Context, req models.PasswordResetRequest) (string, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (*models.SessionRecord, error)
}

// Manager owns the session state machine for one user. It is safe for
// concurrent use; operations do not exclude each other.
type Manager struct {
	auth   Authenticator
	logger *events.Logger

	mu       sync.RWMutex
	snap     Snapshot
	inflight int
	subs     map[int]chan Snapshot
	nextSub  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithAdminRole overrides the role IsAdmin checks for.
func WithAdminRole(role string) Option {
	return func(m *Manager) {
		if role != "" {
			m.snap.AdminRole = role
		}
	}
}

// NewManager creates a manager in the initializing state. Call Init to
// load any persisted session.
func NewManager(auth Authenticator, logger *events.Logger, opts ...Option) *Manager {
	m := &Manager{
		auth:   auth,
		logger: logger.WithField("component", "session"),
		snap: Snapshot{
			State:     StateInitializing,
			Loading:   true,
			AdminRole: models.RoleAdmin,
		},
		subs: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init reads the persisted session once. A stored record with a token is
// trusted without asking the server. An unreadable store is cleared.
func (m *Manager) Init(ctx context.Context) {
	m.mu.RLock()
	initialized := m.snap.State != StateInitializing
	m.mu.RUnlock()
	if initialized {
		return
	}

	record, err := m.auth.CurrentUser(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Stored session unreadable, discarding")
		if lerr := m.auth.Logout(ctx); lerr != nil {
			m.logger.WithError(lerr).Error("Failed to clear stored session")
		}
		record = nil
	}

	m.update(func(s *Snapshot) {
		s.Loading = false
		s.setUser(record)
	})

	if record.IsAuthenticated() {
		m.logger.WithField("username", record.Username).Info("Restored session")
	}
}

// Login signs in. When the API asks for a second factor the manager moves
// to pending-mfa and the returned record has MFARequired set.
func (m *Manager) Login(ctx context.Context, creds models.Credentials) (*models.SessionRecord, error) {
	m.begin()

	record, err := m.auth.SignIn(ctx, creds)
	if err != nil {
		m.fail(err, MsgLoginFailed)
		return nil, err
	}

	m.finish(func(s *Snapshot) {
		s.Expired = false
		if record.MFARequired {
			s.State = StatePendingMFA
			s.PendingUsername = creds.Username
			s.User = nil
			return
		}
		s.PendingUsername = ""
		s.setUser(record)
	})
	return record, nil
}

// VerifyTwoFactorCode completes a pending sign-in. An empty username uses
// the pending one.
func (m *Manager) VerifyTwoFactorCode(ctx context.Context, username string, req models.TwoFactorRequest) (*models.SessionRecord, error) {
	if username == "" {
		username = m.Snapshot().PendingUsername
	}

	m.begin()

	record, err := m.auth.VerifyTwoFactor(ctx, username, req.Code)
	if err != nil {
		m.fail(err, MsgTwoFactorFailed)
		return nil, err
	}

	m.finish(func(s *Snapshot) {
		s.PendingUsername = ""
		s.Expired = false
		s.setUser(record)
	})
	return record, nil
}

// CancelTwoFactor abandons a pending sign-in.
func (m *Manager) CancelTwoFactor() {
	m.update(func(s *Snapshot) {
		if s.State == StatePendingMFA {
			s.State = StateUnauthenticated
		}
		s.PendingUsername = ""
		s.Error = ""
	})
}

// Register creates an account without signing in.
func (m *Manager) Register(ctx context.Context, req models.SignupRequest) (string, error) {
	m.begin()

	msg, err := m.auth.SignUp(ctx, req)
	if err != nil {
		m.fail(err, MsgRegisterFailed)
		return "", err
	}

	m.finish(nil)
	return msg, nil
}

// RequestPasswordReset asks for a reset email.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	m.begin()

	msg, err := m.auth.RequestPasswordReset(ctx, email)
	if err != nil {
		m.fail(err, MsgResetRequestFailed)
		return "", err
	}

	m.finish(nil)
	return msg, nil
}

// ResetPassword sets a new password with a reset token.
func (m *Manager) ResetPassword(ctx context.Context, req models.PasswordResetRequest) (string, error) {
	m.begin()

	msg, err := m.auth.ConfirmPasswordReset(ctx, req)
	if err != nil {
		m.fail(err, MsgResetFailed)
		return "", err
	}

	m.finish(nil)
	return msg, nil
}

// Logout clears the persisted session and resets state immediately. The
// state is reset even if clearing the store fails.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.auth.Logout(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to clear stored session")
	}

	m.update(func(s *Snapshot) {
		s.State = StateUnauthenticated
		s.Loading = false
		s.User = nil
		s.PendingUsername = ""
		s.Error = ""
		s.Expired = false
	})

	m.logger.Info("Logged out")
	return err
}

// HandleExpiry moves to unauthenticated after the transport discarded the
// session. It matches transport.ExpiryFunc.
func (m *Manager) HandleExpiry(_ context.Context, cause error) {
	m.logger.WithError(cause).Info("Session expired")

	m.update(func(s *Snapshot) {
		s.State = StateUnauthenticated
		s.Loading = false
		s.User = nil
		s.PendingUsername = ""
		s.Error = ExpiredMessage
		s.Expired = true
	})
}

// ClearError dismisses the current error message.
func (m *Manager) ClearError() {
	m.update(func(s *Snapshot) {
		s.Error = ""
	})
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.clone()
}

// IsAuthenticated reports whether a session with an access token is held.
func (m *Manager) IsAuthenticated() bool {
	return m.Snapshot().IsAuthenticated()
}

// IsAdmin reports whether the session carries the admin role.
func (m *Manager) IsAdmin() bool {
	return m.Snapshot().IsAdmin()
}

// HasRole reports whether the session carries role.
func (m *Manager) HasRole(role string) bool {
	return m.Snapshot().HasRole(role)
}

// CurrentUser returns the in-memory session record, or nil.
func (m *Manager) CurrentUser() *models.SessionRecord {
	return m.Snapshot().User
}

// Subscribe returns a channel receiving a snapshot after every change,
// starting with the current one. Slow readers only see the latest
// snapshot. Call the returned func to unsubscribe.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- m.snap.clone()
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.inflight++
	m.snap.Busy = true
	m.snap.Error = ""
	m.publish()
	m.mu.Unlock()
}

func (m *Manager) finish(change func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight > 0 {
		m.inflight--
	}
	m.snap.Busy = m.inflight > 0
	if change != nil {
		change(&m.snap)
	}
	m.publish()
}

func (m *Manager) fail(err error, fallback string) {
	msg := models.Message(err, fallback)

	fields := map[string]interface{}{"message": msg}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		fields["status"] = apiErr.StatusCode
	}
	m.logger.WithFields(fields).WithError(err).Warn("Session operation failed")

	m.finish(func(s *Snapshot) {
		s.Error = msg
	})
}

func (m *Manager) update(change func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	change(&m.snap)
	m.publish()
}

// publish must be called with mu held.
func (m *Manager) publish() {
	for _, ch := range m.subs {
		snap := m.snap.clone()
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
