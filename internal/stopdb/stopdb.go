// Package stopdb reads route reference data (vehicles, routes, ordered
// stops) from Postgres. The data is owned by the routing side; this service
// only queries it.
package stopdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"beacon-tracker/internal/beacon"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

type Vehicle struct {
	ID      string
	RouteID string
	Name    string
}

// Catalog answers stop lookups against the routing schema.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog { return &Catalog{db: db} }

// StopsForVehicle resolves a vehicle's route and returns its stops in route
// order.
func (c *Catalog) StopsForVehicle(ctx context.Context, vehicleID string) ([]beacon.Stop, error) {
	q := `SELECT s.stop_id, s.name, s.lat, s.lon, s.stop_order
          FROM stops s
          JOIN vehicles v ON v.route_id = s.route_id
          WHERE v.vehicle_id = $1
          ORDER BY s.stop_order`
	return c.queryStops(ctx, q, vehicleID)
}

// RouteStops returns the ordered stop list for one route.
func (c *Catalog) RouteStops(ctx context.Context, routeID string) ([]beacon.Stop, error) {
	q := `SELECT stop_id, name, lat, lon, stop_order
          FROM stops WHERE route_id = $1 ORDER BY stop_order`
	return c.queryStops(ctx, q, routeID)
}

func (c *Catalog) queryStops(ctx context.Context, q string, arg any) ([]beacon.Stop, error) {
	rows, err := c.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()
	var stops []beacon.Stop
	for rows.Next() {
		var s beacon.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Position.Lat, &s.Position.Lon, &s.Order); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// Vehicles lists the known vehicle fleet.
func (c *Catalog) Vehicles(ctx context.Context) ([]Vehicle, error) {
	q := `SELECT vehicle_id, route_id, COALESCE(name, '') FROM vehicles`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()
	var vs []Vehicle
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.RouteID, &v.Name); err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, rows.Err()
}
