package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Service provides TOTP (Time-based One-Time Password) functionality.
type Service interface {
	// GenerateCode generates a TOTP code from a secret.
	GenerateCode(secret string) (string, error)

	// ValidateCode validates a TOTP code against a secret.
	ValidateCode(secret, code string) bool

	// GenerateCodeAtTime generates a TOTP code for a specific time.
	GenerateCodeAtTime(secret string, t time.Time) (string, error)
}

// Enrollment is a freshly generated shared secret.
type Enrollment struct {
	Secret string
	URL    string
}

// DefaultService implements TOTP operations.
type DefaultService struct {
	period    uint
	digits    otp.Digits
	algorithm otp.Algorithm
	skew      uint
}

// NewService creates a TOTP service with authenticator-app defaults:
// 30 second steps, 6 digits, SHA1, one step of clock skew.
func NewService() *DefaultService {
	return &DefaultService{
		period:    30,
		digits:    otp.DigitsSix,
		algorithm: otp.AlgorithmSHA1,
		skew:      1,
	}
}

// NewServiceWithConfig creates a TOTP service with custom configuration.
func NewServiceWithConfig(period, digits uint, algorithm string) *DefaultService {
	s := NewService()
	if period > 0 {
		s.period = period
	}
	if digits == 8 {
		s.digits = otp.DigitsEight
	}
	switch strings.ToUpper(algorithm) {
	case "SHA256":
		s.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		s.algorithm = otp.AlgorithmSHA512
	}
	return s
}

func (s *DefaultService) opts(skew uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    s.period,
		Skew:      skew,
		Digits:    s.digits,
		Algorithm: s.algorithm,
	}
}

// GenerateCode generates a TOTP code from a secret string.
func (s *DefaultService) GenerateCode(secret string) (string, error) {
	return s.GenerateCodeAtTime(secret, time.Now())
}

// GenerateCodeAtTime generates a TOTP code for a specific time.
func (s *DefaultService) GenerateCodeAtTime(secret string, t time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("totp: secret cannot be empty")
	}

	code, err := totp.GenerateCodeCustom(secret, t, s.opts(0))
	if err != nil {
		return "", fmt.Errorf("totp: failed to generate code: %w", err)
	}
	return code, nil
}

// ValidateCode validates a TOTP code against a secret.
func (s *DefaultService) ValidateCode(secret, code string) bool {
	return s.ValidateCodeAt(secret, code, time.Now())
}

// ValidateCodeAt validates code at t, allowing the configured skew.
func (s *DefaultService) ValidateCodeAt(secret, code string, t time.Time) bool {
	if secret == "" || !s.IsWellFormed(code) {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, t, s.opts(s.skew))
	return err == nil && ok
}

// IsWellFormed reports whether code has the right number of digits and
// nothing else.
func (s *DefaultService) IsWellFormed(code string) bool {
	if len(code) != s.digits.Length() {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Enroll generates a new secret for account.
func (s *DefaultService) Enroll(issuer, account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      s.period,
		Digits:      s.digits,
		Algorithm:   s.algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generate secret: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// GetTimeWindow returns the current TOTP time window information.
func (s *DefaultService) GetTimeWindow() (current int64, remaining time.Duration) {
	now := time.Now()
	current = now.Unix() / int64(s.period)

	nextWindow := (current + 1) * int64(s.period)
	remaining = time.Unix(nextWindow, 0).Sub(now)

	return current, remaining
}

// IsValidSecret checks if a secret string is valid for TOTP.
func (s *DefaultService) IsValidSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("totp: secret cannot be empty")
	}

	if _, err := totp.GenerateCodeCustom(secret, time.Now(), s.opts(0)); err != nil {
		return fmt.Errorf("totp: invalid secret format: %w", err)
	}
	return nil
}
