package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/booking"
	"shuttle-backend/internal/models"
)

// DepartureSource reads departures, routes and bookings from the booking
// subsystem's tables
type DepartureSource struct {
	db *sqlx.DB
}

var _ booking.Source = (*DepartureSource)(nil)

func NewDepartureSource(db *sqlx.DB) *DepartureSource {
	return &DepartureSource{db: db}
}

type departureRow struct {
	ID          string         `db:"id"`
	ScheduledAt int64          `db:"scheduled_at"`
	Capacity    int            `db:"capacity"`
	DriverID    sql.NullString `db:"driver_id"`
	DriverName  sql.NullString `db:"driver_name"`
	DriverPhone sql.NullString `db:"driver_phone"`
	VehicleCode sql.NullString `db:"vehicle_code"`

	RouteID         string          `db:"route_id"`
	RouteName       string          `db:"route_name"`
	OriginName      string          `db:"origin_name"`
	OriginLat       float64         `db:"origin_latitude"`
	OriginLng       float64         `db:"origin_longitude"`
	DestinationName string          `db:"destination_name"`
	DestinationLat  float64         `db:"destination_latitude"`
	DestinationLng  float64         `db:"destination_longitude"`
	WaypointName    sql.NullString  `db:"waypoint_name"`
	WaypointLat     sql.NullFloat64 `db:"waypoint_latitude"`
	WaypointLng     sql.NullFloat64 `db:"waypoint_longitude"`
	DurationMinutes int             `db:"scheduled_duration_minutes"`
}

const departureSelect = `
	SELECT d.id, d.scheduled_at, d.capacity, d.driver_id, d.vehicle_code,
		u.name AS driver_name, u.phone AS driver_phone,
		r.id AS route_id, r.name AS route_name,
		r.origin_name, r.origin_latitude, r.origin_longitude,
		r.destination_name, r.destination_latitude, r.destination_longitude,
		r.waypoint_name, r.waypoint_latitude, r.waypoint_longitude,
		r.scheduled_duration_minutes
	FROM departures d
	JOIN routes r ON r.id = d.route_id
	LEFT JOIN users u ON u.id = d.driver_id
`

func (r departureRow) toModel() models.Departure {
	d := models.Departure{
		ID:          r.ID,
		ScheduledAt: r.ScheduledAt,
		Capacity:    r.Capacity,
		DriverID:    nullString(r.DriverID),
		DriverName:  nullString(r.DriverName),
		DriverPhone: nullString(r.DriverPhone),
		VehicleCode: nullString(r.VehicleCode),
		Route: models.Route{
			ID:                       r.RouteID,
			Name:                     r.RouteName,
			Origin:                   models.GeoPoint{Name: r.OriginName, Latitude: r.OriginLat, Longitude: r.OriginLng},
			Destination:              models.GeoPoint{Name: r.DestinationName, Latitude: r.DestinationLat, Longitude: r.DestinationLng},
			ScheduledDurationMinutes: r.DurationMinutes,
		},
	}
	if r.WaypointLat.Valid && r.WaypointLng.Valid {
		d.Route.Waypoint = &models.GeoPoint{Name: r.WaypointName.String, Latitude: r.WaypointLat.Float64, Longitude: r.WaypointLng.Float64}
	}
	return d
}

func (s *DepartureSource) Get(ctx context.Context, departureID string) (*models.Departure, error) {
	var row departureRow
	err := s.db.GetContext(ctx, &row, departureSelect+` WHERE d.id = $1`, departureID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("departure %s: %w", departureID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load departure: %w", err)
	}
	deps, err := s.withBookings(ctx, []departureRow{row})
	if err != nil {
		return nil, err
	}
	return &deps[0], nil
}

func (s *DepartureSource) ListBetween(ctx context.Context, from, to time.Time) ([]models.Departure, error) {
	var rows []departureRow
	err := s.db.SelectContext(ctx, &rows,
		departureSelect+` WHERE d.scheduled_at BETWEEN $1 AND $2 ORDER BY d.scheduled_at`,
		from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list departures: %w", err)
	}
	return s.withBookings(ctx, rows)
}

func (s *DepartureSource) ListForDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.Departure, error) {
	var rows []departureRow
	err := s.db.SelectContext(ctx, &rows,
		departureSelect+` WHERE d.driver_id = $1 AND d.scheduled_at BETWEEN $2 AND $3 ORDER BY d.scheduled_at`,
		driverID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list driver departures: %w", err)
	}
	return s.withBookings(ctx, rows)
}

func (s *DepartureSource) withBookings(ctx context.Context, rows []departureRow) ([]models.Departure, error) {
	out := make([]models.Departure, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
		ids[i] = r.ID
		index[r.ID] = i
	}

	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT id, departure_id, passenger_name, phone, seats, status
		FROM bookings
		WHERE departure_id = ANY($1)
		ORDER BY departure_id, id
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}
	for _, b := range bookings {
		i := index[b.DepartureID]
		out[i].Bookings = append(out[i].Bookings, b)
	}
	return out, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
