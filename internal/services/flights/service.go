package flights

import (
	"context"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/transport"
)

// Endpoint paths relative to the API base URL.
const (
	PathFlights       = "/flights"
	PathBookings      = "/bookings"
	PathAdminBookings = "/admin/bookings"
)

// Service reads flights and bookings for the signed-in user. Calls go
// through the refreshing transport, so an expired access token is renewed
// transparently.
type Service struct {
	transport transport.Doer
	logger    *events.Logger
}

// NewService creates a flights service.
func NewService(doer transport.Doer, logger *events.Logger) *Service {
	return &Service{
		transport: doer,
		logger:    logger.WithField("service", "flights"),
	}
}

// ListFlights returns the scheduled flights.
func (s *Service) ListFlights(ctx context.Context) ([]models.Flight, error) {
	var flights []models.Flight
	if err := transport.Get(ctx, s.transport, PathFlights, &flights); err != nil {
		return nil, err
	}
	s.logger.WithField("count", len(flights)).Debug("Listed flights")
	return flights, nil
}

// ListBookings returns the signed-in user's bookings.
func (s *Service) ListBookings(ctx context.Context) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := transport.Get(ctx, s.transport, PathBookings, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListAllBookings returns every booking. Requires the admin role.
func (s *Service) ListAllBookings(ctx context.Context) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := transport.Get(ctx, s.transport, PathAdminBookings, &bookings); err != nil {
		return nil, err
	}
	s.logger.WithField("count", len(bookings)).Debug("Listed all bookings")
	return bookings, nil
}
