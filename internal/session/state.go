package session

import (
	"github.com/TheMichaelB/flightbook/internal/models"
)

// State of the session lifecycle.
type State string

const (
	StateInitializing    State = "initializing"
	StateUnauthenticated State = "unauthenticated"
	StatePendingMFA      State = "pending-mfa"
	StateAuthenticated   State = "authenticated"
)

// ExpiredMessage is shown after the session was discarded because the
// access token could not be refreshed.
const ExpiredMessage = "Your session has expired. Please sign in again."

// Snapshot is an immutable view of the session.
type Snapshot struct {
	State State                 `json:"state"`
	User  *models.SessionRecord `json:"user,omitempty"`

	// PendingUsername is set while a second factor is awaited.
	PendingUsername string `json:"pendingUsername,omitempty"`

	Loading bool   `json:"loading"`
	Busy    bool   `json:"busy"`
	Error   string `json:"error,omitempty"`
	Expired bool   `json:"expired,omitempty"`

	AdminRole string `json:"-"`
}

// IsAuthenticated reports whether a session with an access token is held.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.User.IsAuthenticated()
}

// HasRole reports whether the session carries role. Unauthenticated
// sessions carry no roles.
func (s Snapshot) HasRole(role string) bool {
	return s.IsAuthenticated() && s.User.HasRole(role)
}

// IsAdmin reports whether the session carries the admin role.
func (s Snapshot) IsAdmin() bool {
	return s.HasRole(s.AdminRole)
}

// Roles returns the session's roles, or nil.
func (s Snapshot) Roles() []string {
	if !s.IsAuthenticated() {
		return nil
	}
	return s.User.Roles
}

func (s Snapshot) clone() Snapshot {
	s.User = s.User.Clone()
	return s
}

// setUser enters authenticated when record carries a token.
func (s *Snapshot) setUser(record *models.SessionRecord) {
	if record.IsAuthenticated() {
		s.State = StateAuthenticated
		s.User = record.Clone()
		return
	}
	s.State = StateUnauthenticated
	s.User = nil
}
