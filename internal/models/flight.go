package models

import "time"

// Flight is a scheduled flight offered by the booking API.
type Flight struct {
	ID            int64     `json:"id"`
	FlightNumber  string    `json:"flightNumber"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureTime time.Time `json:"departureTime"`
	ArrivalTime   time.Time `json:"arrivalTime"`
	SeatsLeft     int       `json:"seatsLeft"`
	Price         float64   `json:"price"`
}

// Booking links a user to a flight.
type Booking struct {
	ID        int64     `json:"id"`
	FlightID  int64     `json:"flightId"`
	Username  string    `json:"username"`
	Seats     int       `json:"seats"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
