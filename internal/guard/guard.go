package guard

import (
	"errors"
	"net/url"
	"strings"

	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/session"
)

// Well-known routes.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
	DefaultPath      = "/dashboard"
)

// ErrForbidden is returned for an authenticated session lacking a role.
var ErrForbidden = errors.New("you do not have permission to view this page")

// Action tells a page what to do with a request.
type Action int

const (
	Render Action = iota
	Loading
	RedirectLogin
	RedirectUnauthorized
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case Loading:
		return "loading"
	case RedirectLogin:
		return "redirect-login"
	case RedirectUnauthorized:
		return "redirect-unauthorized"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Check.
type Decision struct {
	Action Action

	// From is the originally requested location, set on RedirectLogin.
	From string
}

// Check decides how to handle a request for requested. An empty
// requiredRole only needs a session.
func Check(snap session.Snapshot, requiredRole, requested string) Decision {
	if snap.State == session.StateInitializing || snap.Loading {
		return Decision{Action: Loading}
	}
	if !snap.IsAuthenticated() {
		return Decision{Action: RedirectLogin, From: requested}
	}
	if requiredRole != "" && !snap.HasRole(requiredRole) {
		return Decision{Action: RedirectUnauthorized}
	}
	return Decision{Action: Render}
}

// Location returns where a redirect should go, or "".
func (d Decision) Location() string {
	switch d.Action {
	case RedirectLogin:
		if d.From == "" {
			return LoginPath
		}
		return LoginPath + "?" + url.Values{"from": {d.From}}.Encode()
	case RedirectUnauthorized:
		return UnauthorizedPath
	default:
		return ""
	}
}

// Err maps a decision onto the error a command should report.
func (d Decision) Err() error {
	switch d.Action {
	case RedirectLogin:
		return models.ErrNotAuthenticated
	case RedirectUnauthorized:
		return ErrForbidden
	default:
		return nil
	}
}

// ReturnTarget picks where to go after sign-in. Only local paths are
// honoured; anything else falls back to the dashboard.
func ReturnTarget(from string) string {
	if !IsLocalPath(from) || from == LoginPath || strings.HasPrefix(from, LoginPath+"?") {
		return DefaultPath
	}
	return from
}

// IsLocalPath reports whether p is an absolute path on this site.
func IsLocalPath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}
