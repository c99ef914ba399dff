package models

import "slices"

// RoleAdmin grants the admin-only views.
const RoleAdmin = "ROLE_ADMIN"

// RoleUser is the role every registered account carries.
const RoleUser = "ROLE_USER"

// Credentials for sign-in. Never persisted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TwoFactorRequest carries the second-factor code.
type TwoFactorRequest struct {
	Code string `json:"code"`
}

// SignupRequest registers a new account.
type SignupRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Role     []string `json:"role,omitempty"`
}

// PasswordResetRequest confirms a password reset. Built from the reset link
// (token, email) plus the new password typed by the user.
type PasswordResetRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// MessageResponse is the status body returned by registration and
// password-reset endpoints.
type MessageResponse struct {
	Message string `json:"message"`
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse from the refresh endpoint.
type RefreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Type         string `json:"type,omitempty"`
}

// SessionRecord is the authenticated identity returned by sign-in and
// 2FA verification, cached by the token store.
type SessionRecord struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	Type         string   `json:"type"`
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
	MFAEnabled   bool     `json:"mfaEnabled"`
	MFARequired  bool     `json:"mfaRequired"`
}

// IsAuthenticated reports whether the record carries an access token.
// A nil record is not authenticated.
func (s *SessionRecord) IsAuthenticated() bool {
	return s != nil && s.Token != ""
}

// HasRole checks role membership.
func (s *SessionRecord) HasRole(role string) bool {
	if s == nil {
		return false
	}
	return slices.Contains(s.Roles, role)
}

// IsAdmin checks for RoleAdmin.
func (s *SessionRecord) IsAdmin() bool {
	return s.HasRole(RoleAdmin)
}

// Clone returns a deep copy so callers can't mutate cached state.
func (s *SessionRecord) Clone() *SessionRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.Roles = slices.Clone(s.Roles)
	return &c
}
