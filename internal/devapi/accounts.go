package devapi

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/services/totp"
)

var (
	errUsernameTaken = errors.New("username is already taken")
	errEmailTaken    = errors.New("email is already in use")
	errNoAccount     = errors.New("no such account")
)

type account struct {
	id         int64
	username   string
	email      string
	hash       []byte
	roles      []string
	totpSecret string
}

func (a *account) record() models.SessionRecord {
	return models.SessionRecord{
		Type:       "Bearer",
		ID:         a.id,
		Username:   a.username,
		Email:      a.email,
		Roles:      slices.Clone(a.roles),
		MFAEnabled: a.totpSecret != "",
	}
}

// grant is a refresh token, a reset token or a pending second factor.
type grant struct {
	username string
	expires  time.Time
}

// rolesFor maps the role names a signup form sends onto granted roles.
// Unknown names are dropped; nothing left means a plain user.
func rolesFor(requested []string) []string {
	var roles []string
	for _, r := range requested {
		switch strings.ToLower(strings.TrimSpace(r)) {
		case "admin", strings.ToLower(models.RoleAdmin):
			roles = append(roles, models.RoleAdmin)
		case "user", strings.ToLower(models.RoleUser):
			roles = append(roles, models.RoleUser)
		}
	}
	if len(roles) == 0 {
		return []string{models.RoleUser}
	}
	slices.Sort(roles)
	return slices.Compact(roles)
}

// AddAccount registers an account directly, bypassing the signup endpoint.
func (s *Server) AddAccount(username, email, password string, roles []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; ok {
		return errUsernameTaken
	}
	if s.findByEmailLocked(email) != nil {
		return errEmailTaken
	}

	s.nextID++
	s.accounts[username] = &account{
		id:       s.nextID,
		username: username,
		email:    email,
		hash:     hash,
		roles:    rolesFor(roles),
	}
	return nil
}

// EnableTwoFactor enrolls username in TOTP and returns the enrollment.
func (s *Server) EnableTwoFactor(username string) (*totp.Enrollment, error) {
	enrollment, err := s.otp.Enroll("flightbook", username)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return nil, errNoAccount
	}
	acct.totpSecret = enrollment.Secret
	return enrollment, nil
}

func (s *Server) findByEmailLocked(email string) *account {
	for _, acct := range s.accounts {
		if strings.EqualFold(acct.email, email) {
			return acct
		}
	}
	return nil
}

// authenticate checks a password. The error does not say which part was
// wrong.
func (s *Server) authenticate(username, password string) (*account, error) {
	s.mu.RLock()
	acct, ok := s.accounts[username]
	s.mu.RUnlock()
	if !ok {
		return nil, errNoAccount
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return nil, errNoAccount
	}
	return acct, nil
}

// session issues tokens for acct.
func (s *Server) session(acct *account) (models.SessionRecord, error) {
	record := acct.record()

	access, err := s.tokens.issue(acct.username, acct.roles)
	if err != nil {
		return record, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := opaqueToken()
	if err != nil {
		return record, fmt.Errorf("issue refresh token: %w", err)
	}

	s.mu.Lock()
	s.refresh[refresh] = grant{username: acct.username, expires: s.now().Add(s.cfg.RefreshTokenTTL)}
	s.mu.Unlock()

	record.Token = access
	record.RefreshToken = refresh
	return record, nil
}

// takeGrant returns the live grant for key and removes it when consume is
// set. Expired grants are removed either way.
func (s *Server) takeGrant(grants map[string]grant, key string, consume bool) (grant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := grants[key]
	if !ok {
		return grant{}, false
	}
	if !s.now().Before(g.expires) {
		delete(grants, key)
		return grant{}, false
	}
	if consume {
		delete(grants, key)
	}
	return g, true
}

// revokeRefresh drops every refresh token held by username.
func (s *Server) revokeRefresh(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, g := range s.refresh {
		if g.username == username {
			delete(s.refresh, token)
		}
	}
}
