package models

import "time"

// GeoPoint is a named stop on a route
type GeoPoint struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Route is the fixed path a departure runs on
type Route struct {
	ID                       string    `json:"id"`
	Name                     string    `json:"name"`
	Origin                   GeoPoint  `json:"origin"`
	Destination              GeoPoint  `json:"destination"`
	Waypoint                 *GeoPoint `json:"waypoint,omitempty"`
	ScheduledDurationMinutes int       `json:"scheduled_duration_minutes"`
}

func (r Route) ScheduledDuration() time.Duration {
	return time.Duration(r.ScheduledDurationMinutes) * time.Minute
}

// Booking is a passenger reservation on a departure
type Booking struct {
	ID            string `json:"id" db:"id"`
	DepartureID   string `json:"departure_id" db:"departure_id"`
	PassengerName string `json:"passenger_name" db:"passenger_name"`
	Phone         string `json:"phone" db:"phone"`
	Seats         int    `json:"seats" db:"seats"`
	Status        string `json:"status" db:"status"` // confirmed, cancelled
}

const (
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// Departure is one scheduled run of a route. Owned by the booking subsystem,
// read-only here.
type Departure struct {
	ID          string    `json:"id"`
	ScheduledAt int64     `json:"scheduled_at"` // Unix timestamp
	Route       Route     `json:"route"`
	Capacity    int       `json:"capacity"`
	DriverID    *string   `json:"driver_id,omitempty"`
	DriverName  *string   `json:"driver_name,omitempty"`
	DriverPhone *string   `json:"driver_phone,omitempty"`
	VehicleCode *string   `json:"vehicle_code,omitempty"`
	Bookings    []Booking `json:"bookings,omitempty"`
}

func (d *Departure) ScheduledTime() time.Time {
	return time.Unix(d.ScheduledAt, 0)
}

// ScheduledArrival is departure time plus the route's scheduled duration
func (d *Departure) ScheduledArrival() time.Time {
	return d.ScheduledTime().Add(d.Route.ScheduledDuration())
}

// AssignedTo reports whether the departure has a driver and it is userID
func (d *Departure) AssignedTo(userID string) bool {
	return d.DriverID != nil && *d.DriverID == userID
}
