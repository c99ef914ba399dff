package web

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/flightbook/internal/client"
	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/tokenstore"
	"github.com/TheMichaelB/flightbook/internal/transport"
)

// VisitorCookie names the cookie carrying the visitor id.
const VisitorCookie = "flightbook_visitor"

// keyLastSeen holds a visitor's last request time in the shared backend,
// as unix seconds. Every instance serving the visitor refreshes it.
const keyLastSeen = "lastSeen"

// seenWriteInterval throttles lastSeen writes per visitor.
const seenWriteInterval = time.Minute

type visitorKey struct{}

// visitor is one browser. Each gets its own token store namespace and
// session manager.
type visitor struct {
	id     string
	client *client.Client

	mu        sync.Mutex
	lastSeen  time.Time
	persisted time.Time
}

// touch records activity and reports whether the backend stamp is due.
func (v *visitor) touch(now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastSeen = now
	if !v.persisted.IsZero() && now.Sub(v.persisted) < seenWriteInterval {
		return false
	}
	v.persisted = now
	return true
}

func (v *visitor) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

// visitors maps cookie ids to live visitors over one shared backend.
type visitors struct {
	cfg    *config.Config
	kv     tokenstore.KV
	base   *transport.HTTPClient
	logger *events.Logger
	now    func() time.Time

	mu   sync.Mutex
	byID map[string]*visitor
}

func newVisitors(cfg *config.Config, kv tokenstore.KV, base *transport.HTTPClient, logger *events.Logger) *visitors {
	return &visitors{
		cfg:    cfg,
		kv:     kv,
		base:   base,
		logger: logger,
		now:    time.Now,
		byID:   make(map[string]*visitor),
	}
}

func visitorPrefix(id string) string {
	return "visitor:" + id + ":"
}

// get returns the visitor for id, restoring its session from the backend
// on first sight in this process.
func (vs *visitors) get(ctx context.Context, id string) *visitor {
	now := vs.now()

	vs.mu.Lock()
	v, ok := vs.byID[id]
	if !ok {
		logger := vs.logger.WithField("visitor_id", id)
		store := tokenstore.New(tokenstore.Prefixed(vs.kv, visitorPrefix(id)), logger)
		v = &visitor{
			id:     id,
			client: client.NewWithStore(vs.cfg, vs.base, store, logger),
		}
		v.client.Session.Init(ctx)
		vs.byID[id] = v
	}
	vs.mu.Unlock()

	if v.touch(now) {
		stamp := map[string]string{visitorPrefix(id) + keyLastSeen: strconv.FormatInt(now.Unix(), 10)}
		if err := vs.kv.SetAll(ctx, stamp); err != nil {
			vs.logger.WithError(err).WithField("visitor_id", id).Warn("Failed to record visitor activity")
		}
	}
	return v
}

// seenSince reports whether any instance recorded activity for id after
// cutoff.
func (vs *visitors) seenSince(ctx context.Context, id string, cutoff time.Time) bool {
	raw, ok, err := vs.kv.Get(ctx, visitorPrefix(id)+keyLastSeen)
	if err != nil {
		vs.logger.WithError(err).WithField("visitor_id", id).Warn("Failed to read visitor activity")
		return true
	}
	if !ok {
		return false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return time.Unix(unix, 0).After(cutoff)
}

// sweep forgets visitors idle here for longer than ttl. Their stored
// sessions are wiped unless another instance saw them within ttl.
func (vs *visitors) sweep(ctx context.Context, ttl time.Duration) int {
	cutoff := vs.now().Add(-ttl)

	vs.mu.Lock()
	var stale []*visitor
	for id, v := range vs.byID {
		if v.idleSince().Before(cutoff) {
			stale = append(stale, v)
			delete(vs.byID, id)
		}
	}
	vs.mu.Unlock()

	for _, v := range stale {
		if vs.seenSince(ctx, v.id, cutoff) {
			continue
		}

		vs.mu.Lock()
		_, returned := vs.byID[v.id]
		vs.mu.Unlock()
		if returned {
			continue
		}

		if err := vs.kv.DeletePrefix(ctx, visitorPrefix(v.id)); err != nil {
			vs.logger.WithError(err).WithField("visitor_id", v.id).Warn("Failed to wipe visitor session")
		}
	}
	return len(stale)
}

func (vs *visitors) count() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.byID)
}

// run sweeps until ctx is done.
func (vs *visitors) run(ctx context.Context, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := vs.sweep(ctx, ttl); n > 0 {
				vs.logger.WithField("count", n).Debug("Evicted idle visitors")
			}
		}
	}
}

// middleware attaches the visitor to the request, issuing a cookie to new
// browsers.
func (vs *visitors) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(VisitorCookie); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
		}

		http.SetCookie(w, &http.Cookie{
			Name:     VisitorCookie,
			Value:    id,
			Path:     "/",
			MaxAge:   int(vs.cfg.Web.VisitorTTL.Seconds()),
			HttpOnly: true,
			Secure:   vs.cfg.Web.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := events.WithVisitorID(r.Context(), id)
		v := vs.get(ctx, id)
		ctx = context.WithValue(ctx, visitorKey{}, v)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func visitorFrom(r *http.Request) *visitor {
	v, _ := r.Context().Value(visitorKey{}).(*visitor)
	return v
}
