package guard

import (
	"net/http"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/session"
)

// SnapshotFunc resolves the session behind a request.
type SnapshotFunc func(r *http.Request) session.Snapshot

// RememberFunc stores the location a visitor asked for before being sent
// to the login page.
type RememberFunc func(r *http.Request, location string)

// Middleware guards routes for the web shell.
type Middleware struct {
	snapshot SnapshotFunc
	remember RememberFunc
	loading  http.Handler
}

// NewMiddleware creates guard middleware. remember and loading may be nil.
func NewMiddleware(snapshot SnapshotFunc, remember RememberFunc, loading http.Handler) *Middleware {
	if loading == nil {
		loading = http.HandlerFunc(defaultLoading)
	}
	return &Middleware{snapshot: snapshot, remember: remember, loading: loading}
}

// Require returns middleware that renders next only for sessions holding
// role. An empty role only needs a session.
func (m *Middleware) Require(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := r.URL.RequestURI()
			decision := Check(m.snapshot(r), role, requested)

			logger := events.FromContext(r.Context()).WithFields(map[string]interface{}{
				"path":     r.URL.Path,
				"decision": decision.Action.String(),
			})

			switch decision.Action {
			case Render:
				next.ServeHTTP(w, r)
			case Loading:
				m.loading.ServeHTTP(w, r)
			case RedirectLogin:
				logger.Debug("Redirecting to login")
				if m.remember != nil {
					m.remember(r, requested)
				}
				http.Redirect(w, r, decision.Location(), http.StatusSeeOther)
			case RedirectUnauthorized:
				logger.Info("Role check failed")
				http.Redirect(w, r, decision.Location(), http.StatusSeeOther)
			}
		})
	}
}

func defaultLoading(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Refresh", "1")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Loading...\n"))
}
