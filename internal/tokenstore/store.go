package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
)

// Storage keys for the persisted session.
const (
	KeyToken        = "token"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"

	// EphemeralPrefix namespaces values that only live until logout.
	EphemeralPrefix = "session:"

	keyReturnTo = "returnTo"
)

// Store persists the session record and its tokens. It does no validation
// and tracks no expiry; the remote API is the authority on token validity.
type Store struct {
	kv        KV
	ephemeral KV
	logger    *events.Logger
}

// New wraps kv.
func New(kv KV, logger *events.Logger) *Store {
	return &Store{
		kv:        kv,
		ephemeral: Prefixed(kv, EphemeralPrefix),
		logger:    logger.WithField("component", "token_store"),
	}
}

// Open builds the backend named by cfg.
func Open(ctx context.Context, cfg *config.StoreConfig, logger *events.Logger) (*Store, error) {
	kv, err := OpenKV(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(kv, logger), nil
}

// OpenKV builds the raw backend named by cfg. The web shell shares one
// backend between visitors through Prefixed.
func OpenKV(ctx context.Context, cfg *config.StoreConfig, logger *events.Logger) (KV, error) {
	switch strings.ToLower(cfg.Backend) {
	case "file", "":
		return NewFileKV(cfg.Path, logger)
	case "sqlite":
		return NewSQLiteKV(cfg.Path, logger)
	case "redis":
		return DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "memory":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// Save writes the access token, refresh token and serialized record in a
// single write.
func (s *Store) Save(ctx context.Context, record *models.SessionRecord) error {
	if record == nil {
		return s.Clear(ctx)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	if err := s.kv.SetAll(ctx, map[string]string{
		KeyToken:        record.Token,
		KeyRefreshToken: record.RefreshToken,
		KeyUser:         string(data),
	}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.logger.WithField("username", record.Username).Debug("Session saved")
	return nil
}

// Clear removes the persisted session. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyToken, KeyRefreshToken, KeyUser); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.logger.Debug("Session cleared")
	return nil
}

// Read returns the last saved record, or nil when none is stored.
func (s *Store) Read(ctx context.Context) (*models.SessionRecord, error) {
	raw, ok, err := s.kv.Get(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var record models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &record, nil
}

// AccessToken returns the stored access token, or "" when absent.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyToken)
}

// RefreshToken returns the stored refresh token, or "" when absent.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyRefreshToken)
}

// SetAccessToken replaces the access token obtained with refreshToken. The
// record's token field is rewritten in the same write so Read stays
// consistent. The write only lands while refreshToken is still stored;
// otherwise the session was cleared or replaced meanwhile and
// models.ErrSessionChanged is returned.
func (s *Store) SetAccessToken(ctx context.Context, refreshToken, token string) error {
	updates := map[string]string{KeyToken: token}

	record, err := s.Read(ctx)
	if err != nil {
		return err
	}
	if record != nil {
		record.Token = token
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal session record: %w", err)
		}
		updates[KeyUser] = string(data)
	}

	ok, err := s.kv.SetIfEqual(ctx, KeyRefreshToken, refreshToken, updates)
	if err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if !ok {
		s.logger.Debug("Session changed during refresh, dropping new access token")
		return models.ErrSessionChanged
	}
	return nil
}

// SetReturnTo remembers where the user was headed before being sent to
// the login page.
func (s *Store) SetReturnTo(ctx context.Context, location string) error {
	return s.ephemeral.SetAll(ctx, map[string]string{keyReturnTo: location})
}

// PopReturnTo returns and forgets the remembered location.
func (s *Store) PopReturnTo(ctx context.Context) (string, error) {
	v, ok, err := s.ephemeral.Get(ctx, keyReturnTo)
	if err != nil || !ok {
		return "", err
	}
	if err := s.ephemeral.Delete(ctx, keyReturnTo); err != nil {
		return "", err
	}
	return v, nil
}

// ClearEphemeral wipes the session-scoped namespace.
func (s *Store) ClearEphemeral(ctx context.Context) error {
	return s.ephemeral.DeletePrefix(ctx, "")
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, _, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}
