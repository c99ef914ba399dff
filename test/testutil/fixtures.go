package testutil

import (
	"bytes"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/models"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// Faker is seeded so fixture data is stable between runs.
var Faker = gofakeit.New(42)

// FakeCredentials returns plausible sign-in credentials.
func FakeCredentials() models.Credentials {
	return models.Credentials{
		Username: Faker.Username(),
		Password: Faker.Password(true, true, true, false, false, 12),
	}
}

// FakeSignup returns a complete registration request.
func FakeSignup(role string) models.SignupRequest {
	return models.SignupRequest{
		Username: Faker.Username(),
		Email:    Faker.Email(),
		Password: Faker.Password(true, true, true, false, false, 12),
		Role:     []string{role},
	}
}

// FakeSession returns an authenticated session record carrying roles.
func FakeSession(roles ...string) *models.SessionRecord {
	if len(roles) == 0 {
		roles = []string{models.RoleUser}
	}
	return &models.SessionRecord{
		Token:        Faker.UUID(),
		RefreshToken: Faker.UUID(),
		Type:         "Bearer",
		ID:           int64(Faker.Number(1, 10000)),
		Username:     Faker.Username(),
		Email:        Faker.Email(),
		Roles:        roles,
	}
}

// SampleFlights returns n flights departing over the coming days.
func SampleFlights(n int) []models.Flight {
	flights := make([]models.Flight, 0, n)
	base := time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		dep := base.Add(time.Duration(i) * 26 * time.Hour)
		flights = append(flights, models.Flight{
			ID:            int64(i + 1),
			FlightNumber:  Faker.LetterN(2) + Faker.DigitN(3),
			Origin:        Faker.City(),
			Destination:   Faker.City(),
			DepartureTime: dep,
			ArrivalTime:   dep.Add(time.Duration(Faker.Number(1, 12)) * time.Hour),
			SeatsLeft:     Faker.Number(0, 180),
			Price:         Faker.Price(49, 899),
		})
	}
	return flights
}
