package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// SessionView is the session as shown to browser scripts. Tokens are
// never included.
type SessionView struct {
	State           session.State `json:"state"`
	Username        string        `json:"username,omitempty"`
	Email           string        `json:"email,omitempty"`
	Roles           []string      `json:"roles,omitempty"`
	Admin           bool          `json:"admin"`
	PendingUsername string        `json:"pendingUsername,omitempty"`
	Loading         bool          `json:"loading"`
	Busy            bool          `json:"busy"`
	Error           string        `json:"error,omitempty"`
	Expired         bool          `json:"expired"`
}

// NewSessionView strips snap down to what a page may see.
func NewSessionView(snap session.Snapshot) SessionView {
	view := SessionView{
		State:           snap.State,
		Admin:           snap.IsAdmin(),
		PendingUsername: snap.PendingUsername,
		Loading:         snap.Loading,
		Busy:            snap.Busy,
		Error:           snap.Error,
		Expired:         snap.Expired,
	}
	if snap.IsAuthenticated() {
		view.Username = snap.User.Username
		view.Email = snap.User.Email
		view.Roles = snap.Roles()
	}
	return view
}

func (s *Server) handleSessionJSON(w http.ResponseWriter, r *http.Request) {
	view := NewSessionView(visitorFrom(r).client.Session.Snapshot())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(view)
}

// handleSessionStream pushes a SessionView whenever the visitor's session
// changes, starting with the current one.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	logger := events.FromContext(r.Context())
	manager := visitorFrom(r).client.Session

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	// Reads only serve to notice the browser going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(NewSessionView(snap)); err != nil {
				logger.WithError(err).Debug("Session stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
