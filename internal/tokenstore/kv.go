package tokenstore

import (
	"context"
	"errors"
	"strings"
)

// KV is the durable key/value storage behind the token store. Writes via
// SetAll are all-or-nothing.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetAll writes every entry atomically.
	SetAll(ctx context.Context, entries map[string]string) error

	// SetIfEqual writes entries atomically only while key holds expected.
	// It reports false, with nothing written, when key is absent or differs.
	SetIfEqual(ctx context.Context, key, expected string, entries map[string]string) (bool, error)

	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Close releases resources.
	Close() error
}

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("token store closed")

// prefixed namespaces a shared backend.
type prefixed struct {
	kv     KV
	prefix string
}

// Prefixed returns a KV whose keys live under prefix in kv. Closing it does
// not close kv.
func Prefixed(kv KV, prefix string) KV {
	return &prefixed{kv: kv, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.kv.Get(ctx, p.prefix+key)
}

func (p *prefixed) SetAll(ctx context.Context, entries map[string]string) error {
	return p.kv.SetAll(ctx, p.scope(entries))
}

func (p *prefixed) SetIfEqual(ctx context.Context, key, expected string, entries map[string]string) (bool, error) {
	return p.kv.SetIfEqual(ctx, p.prefix+key, expected, p.scope(entries))
}

func (p *prefixed) scope(entries map[string]string) map[string]string {
	scoped := make(map[string]string, len(entries))
	for k, v := range entries {
		scoped[p.prefix+k] = v
	}
	return scoped
}

func (p *prefixed) Delete(ctx context.Context, keys ...string) error {
	scoped := make([]string, len(keys))
	for i, k := range keys {
		scoped[i] = p.prefix + k
	}
	return p.kv.Delete(ctx, scoped...)
}

func (p *prefixed) DeletePrefix(ctx context.Context, prefix string) error {
	return p.kv.DeletePrefix(ctx, p.prefix+prefix)
}

func (p *prefixed) Close() error {
	return nil
}

func hasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}
