package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
)

// RefreshPath is the token refresh endpoint.
const RefreshPath = "/auth/refresh-token"

var (
	errNoRefreshToken = errors.New("no refresh token stored")
	errEmptyRefresh   = errors.New("refresh response carried no token")
)

// SessionTokens is the token store surface the refresher needs.
type SessionTokens interface {
	RefreshToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, refreshToken, token string) error
	Clear(ctx context.Context) error
}

// ExpiryFunc is called after the stored session was discarded because it
// could not be refreshed.
type ExpiryFunc func(ctx context.Context, cause error)

// Refresher wraps a Doer and recovers from 401 responses by exchanging
// the stored refresh token for a new access token and resubmitting the
// request once.
type Refresher struct {
	next     Doer
	tokens   SessionTokens
	coalesce bool
	group    singleflight.Group
	logger   *events.Logger

	mu       sync.RWMutex
	onExpiry []ExpiryFunc
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithCoalescing controls whether concurrent 401s share one refresh call.
func WithCoalescing(enabled bool) RefresherOption {
	return func(r *Refresher) {
		r.coalesce = enabled
	}
}

// NewRefresher wraps next. The refresh call itself goes straight to next,
// without the bearer header and without interception.
func NewRefresher(next Doer, tokens SessionTokens, logger *events.Logger, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		next:     next,
		tokens:   tokens,
		coalesce: true,
		logger:   logger.WithField("component", "token_refresher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OnExpiry registers fn to run whenever the session is discarded.
func (r *Refresher) OnExpiry(fn ExpiryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpiry = append(r.onExpiry, fn)
}

// Do sends req, refreshing the access token once on a 401.
func (r *Refresher) Do(ctx context.Context, req *Request, out interface{}) error {
	err := r.next.Do(ctx, req, out)
	if err == nil || req.SkipRefresh || req.retried || !models.IsUnauthorized(err) {
		return err
	}

	retry := *req
	retry.retried = true

	r.logger.WithField("path", req.Path).Debug("Access token rejected, refreshing")

	switch refreshErr := r.refresh(ctx); {
	case refreshErr == nil:
		return r.Do(ctx, &retry, out)
	case errors.Is(refreshErr, errNoRefreshToken),
		errors.Is(refreshErr, errEmptyRefresh),
		errors.Is(refreshErr, models.ErrSessionChanged):
		return err
	default:
		return refreshErr
	}
}

// refresh obtains a new access token. Coalesced callers share one renewal
// that outlives any single caller's cancellation; each caller stops waiting
// when its own ctx ends.
func (r *Refresher) refresh(ctx context.Context) error {
	if !r.coalesce {
		return r.renew(ctx)
	}

	ch := r.group.DoChan("refresh", func() (interface{}, error) {
		return nil, r.renew(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			refreshTotal.WithLabelValues(RefreshSharedInFlight).Inc()
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// renew runs one exchange and discards the session only when the refresh
// token is missing or rejected.
func (r *Refresher) renew(ctx context.Context) error {
	err := r.exchange(ctx)
	switch {
	case err == nil,
		errors.Is(err, errEmptyRefresh),
		errors.Is(err, models.ErrSessionChanged),
		ctx.Err() != nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}

	r.expire(ctx, err)
	return err
}

func (r *Refresher) exchange(ctx context.Context) error {
	refreshToken, err := r.tokens.RefreshToken(ctx)
	if err != nil {
		refreshTotal.WithLabelValues(RefreshFailed).Inc()
		return fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		refreshTotal.WithLabelValues(RefreshNoToken).Inc()
		return errNoRefreshToken
	}

	var resp models.RefreshResponse
	err = r.next.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        RefreshPath,
		Body:        models.RefreshRequest{RefreshToken: refreshToken},
		SkipRefresh: true,
		NoAuth:      true,
	}, &resp)
	if err != nil {
		refreshTotal.WithLabelValues(RefreshFailed).Inc()
		r.logger.WithError(err).Warn("Token refresh failed")
		return fmt.Errorf("refresh access token: %w", err)
	}

	if resp.Token == "" {
		refreshTotal.WithLabelValues(RefreshEmptyResponse).Inc()
		r.logger.Warn("Token refresh returned no access token")
		return errEmptyRefresh
	}

	if err := r.tokens.SetAccessToken(ctx, refreshToken, resp.Token); err != nil {
		if errors.Is(err, models.ErrSessionChanged) {
			r.logger.Info("Session changed during refresh, discarding new token")
			return err
		}
		refreshTotal.WithLabelValues(RefreshFailed).Inc()
		return fmt.Errorf("store refreshed token: %w", err)
	}

	refreshTotal.WithLabelValues(RefreshSucceeded).Inc()
	r.logger.Info("Access token refreshed")
	return nil
}

func (r *Refresher) expire(ctx context.Context, cause error) {
	sessionsExpiredTotal.Inc()

	if err := r.tokens.Clear(ctx); err != nil {
		r.logger.WithError(err).Error("Failed to clear expired session")
	}

	r.mu.RLock()
	hooks := append([]ExpiryFunc(nil), r.onExpiry...)
	r.mu.RUnlock()

	r.logger.WithError(cause).Info("Session expired")
	for _, fn := range hooks {
		fn(ctx, cause)
	}
}
