package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheMichaelB/flightbook/internal/events"
)

// CurrentSchemaVersion of the session file.
const CurrentSchemaVersion = 1

// ErrCorrupt is returned when neither the session file nor its backup parse.
var ErrCorrupt = errors.New("session file is corrupt")

type fileContents struct {
	SchemaVersion int               `json:"schema_version"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Entries       map[string]string `json:"entries"`
	Checksum      string            `json:"checksum,omitempty"`
}

// FileKV stores entries in a single JSON file, rewritten atomically on each
// change. The file is re-read on every call so separate processes (the CLI
// invoked twice) see each other's writes.
type FileKV struct {
	path   string
	logger *events.Logger

	mu     sync.Mutex
	closed bool
}

// NewFileKV creates a file-backed store at path.
func NewFileKV(path string, logger *events.Logger) (*FileKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &FileKV{
		path:   path,
		logger: logger.WithField("component", "file_token_store"),
	}, nil
}

func (f *FileKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", false, ErrClosed
	}

	entries, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

func (f *FileKV) SetAll(_ context.Context, updates map[string]string) error {
	return f.mutate(func(entries map[string]string) bool {
		for k, v := range updates {
			entries[k] = v
		}
		return true
	})
}

func (f *FileKV) SetIfEqual(_ context.Context, key, expected string, updates map[string]string) (bool, error) {
	applied := false
	err := f.mutate(func(entries map[string]string) bool {
		if v, ok := entries[key]; !ok || v != expected {
			return false
		}
		for k, v := range updates {
			entries[k] = v
		}
		applied = true
		return true
	})
	return applied, err
}

func (f *FileKV) Delete(_ context.Context, keys ...string) error {
	return f.mutate(func(entries map[string]string) bool {
		for _, k := range keys {
			delete(entries, k)
		}
		return true
	})
}

func (f *FileKV) DeletePrefix(_ context.Context, prefix string) error {
	return f.mutate(func(entries map[string]string) bool {
		for k := range entries {
			if hasPrefix(k, prefix) {
				delete(entries, k)
			}
		}
		return true
	})
}

func (f *FileKV) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// mutate applies change to the current entries and saves them unless change
// reports false.
func (f *FileKV) mutate(change func(map[string]string) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	entries, err := f.load()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	if entries == nil {
		// A corrupt file is replaced rather than blocking every write.
		entries = make(map[string]string)
	}

	if !change(entries) {
		return nil
	}
	return f.save(entries)
}

func (f *FileKV) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	contents, err := decode(data)
	if err != nil {
		f.logger.WithError(err).Warn("Session file unreadable, trying backup")
		backup, berr := os.ReadFile(f.path + ".backup")
		if berr != nil {
			return nil, ErrCorrupt
		}
		if contents, err = decode(backup); err != nil {
			return nil, ErrCorrupt
		}
	}

	if contents.SchemaVersion != CurrentSchemaVersion {
		f.logger.WithField("version", contents.SchemaVersion).Warn("Session file schema version mismatch")
	}

	if contents.Entries == nil {
		contents.Entries = map[string]string{}
	}
	return contents.Entries, nil
}

func (f *FileKV) save(entries map[string]string) error {
	contents := fileContents{
		SchemaVersion: CurrentSchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Entries:       entries,
	}
	sum, err := checksum(contents)
	if err != nil {
		return err
	}
	contents.Checksum = sum

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session file: %w", err)
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename session file: %w", err)
	}

	// The backup always mirrors the current file, so cleared entries never
	// come back through it.
	if err := os.WriteFile(f.path+".backup", data, 0600); err != nil {
		f.logger.WithError(err).Warn("Failed to write backup")
		_ = os.Remove(f.path + ".backup")
	}

	f.logger.WithField("keys", len(entries)).Debug("Saved session file")
	return nil
}

func decode(data []byte) (*fileContents, error) {
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}

	if contents.Checksum != "" {
		want := contents.Checksum
		contents.Checksum = ""
		got, err := checksum(contents)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", want, got)
		}
		contents.Checksum = want
	}

	return &contents, nil
}

// checksum covers everything but the checksum field itself.
func checksum(c fileContents) (string, error) {
	c.Checksum = ""
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal session for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
