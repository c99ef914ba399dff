package client

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/services/auth"
	"github.com/TheMichaelB/flightbook/internal/services/flights"
	"github.com/TheMichaelB/flightbook/internal/session"
	"github.com/TheMichaelB/flightbook/internal/tokenstore"
	"github.com/TheMichaelB/flightbook/internal/transport"
)

// Client provides the high-level API for a signed-in user.
type Client struct {
	Auth    *auth.Service
	Flights *flights.Service
	Session *session.Manager
	Store   *tokenstore.Store

	config    *config.Config
	logger    *events.Logger
	transport *transport.Refresher
}

// New opens the configured token store and wires a client over it.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	store, err := tokenstore.Open(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	base := transport.NewHTTPClient(&cfg.API, nil, logger)
	return NewWithStore(cfg, base, store, logger), nil
}

// NewWithStore wires a client over an existing store. base is shared
// between clients; each gets its own view reading tokens from store.
func NewWithStore(cfg *config.Config, base *transport.HTTPClient, store *tokenstore.Store, logger *events.Logger) *Client {
	refresher := transport.NewRefresher(
		base.WithTokens(store),
		store,
		logger,
		transport.WithCoalescing(cfg.API.CoalesceRefresh),
	)

	authService := auth.NewService(refresher, store, logger, auth.WithAdminRole(cfg.Auth.AdminRole))
	flightsService := flights.NewService(refresher, logger)
	manager := session.NewManager(authService, logger, session.WithAdminRole(cfg.Auth.AdminRole))

	// A failed refresh drops the user back to the sign-in page.
	refresher.OnExpiry(manager.HandleExpiry)

	return &Client{
		Auth:      authService,
		Flights:   flightsService,
		Session:   manager,
		Store:     store,
		config:    cfg,
		logger:    logger,
		transport: refresher,
	}
}

// Transport returns the authenticated, refreshing request path.
func (c *Client) Transport() transport.Doer {
	return c.transport
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.Config {
	return c.config
}

// Close releases the token store.
func (c *Client) Close() error {
	return c.Store.Close()
}
