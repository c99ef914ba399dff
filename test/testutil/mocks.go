package testutil

import (
	"context"
	"sync"

	"github.com/TheMichaelB/flightbook/internal/tokenstore"
)

// FailingKV wraps a backend and injects errors per operation.
type FailingKV struct {
	tokenstore.KV

	mu        sync.Mutex
	GetErr    error
	SetErr    error
	DeleteErr error
}

// NewFailingKV wraps an in-memory backend.
func NewFailingKV() *FailingKV {
	return &FailingKV{KV: tokenstore.NewMemoryKV()}
}

func (f *FailingKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	err := f.GetErr
	f.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return f.KV.Get(ctx, key)
}

func (f *FailingKV) SetAll(ctx context.Context, entries map[string]string) error {
	f.mu.Lock()
	err := f.SetErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.KV.SetAll(ctx, entries)
}

func (f *FailingKV) SetIfEqual(ctx context.Context, key, expected string, entries map[string]string) (bool, error) {
	f.mu.Lock()
	err := f.SetErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.KV.SetIfEqual(ctx, key, expected, entries)
}

func (f *FailingKV) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	err := f.DeleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.KV.Delete(ctx, keys...)
}

// SetGetErr changes the error returned by Get.
func (f *FailingKV) SetGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetErr = err
}
