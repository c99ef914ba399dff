package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	RefreshSucceeded      = "success"
	RefreshFailed         = "failure"
	RefreshNoToken        = "no_refresh_token"
	RefreshEmptyResponse  = "empty_response"
	RefreshSharedInFlight = "shared"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightbook_api_requests_total",
		Help: "Requests sent to the booking API by method, path and status",
	}, []string{"method", "path", "status"})

	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightbook_token_refresh_total",
		Help: "Access token refresh attempts by outcome",
	}, []string{"outcome"})

	sessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightbook_sessions_expired_total",
		Help: "Sessions cleared because the access token could not be refreshed",
	})
)
