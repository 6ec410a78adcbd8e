package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon-tracker/internal/beacon"
)

const (
	reportsKeyPrefix = "vehicle:reports:"
	stateKeyPrefix   = "vehicle:state:"
	heartbeatPrefix  = "beacon:heartbeat:"
)

// Redis holds the beacon report store and the canonical vehicle state store.
// Each vehicle's reports live in one hash keyed by beacon ID, so a single
// HGETALL yields the consistent snapshot a fusion cycle requires.
type Redis struct {
	rdb          *redis.Client
	heartbeatTTL time.Duration
}

func NewRedis(addr, password string, db int, heartbeatTTL time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{rdb: rdb, heartbeatTTL: heartbeatTTL}, nil
}

func (s *Redis) Close() error { return s.rdb.Close() }

// Client exposes the underlying connection for collaborators that share it,
// such as the ingest rate limiter.
func (s *Redis) Client() *redis.Client { return s.rdb }

// UpsertReport writes the beacon's latest report, keyed by beacon ID, and
// refreshes its heartbeat key.
func (s *Redis) UpsertReport(ctx context.Context, r beacon.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, reportsKeyPrefix+r.VehicleID, r.BeaconID, b).Err(); err != nil {
		return err
	}
	return s.rdb.Set(ctx, heartbeatPrefix+r.BeaconID,
		time.Now().UTC().Format(time.RFC3339), s.heartbeatTTL).Err()
}

// DeactivateReport removes a beacon's report on beacon stop.
func (s *Redis) DeactivateReport(ctx context.Context, vehicleID, beaconID string) error {
	if err := s.rdb.HDel(ctx, reportsKeyPrefix+vehicleID, beaconID).Err(); err != nil {
		return err
	}
	return s.rdb.Del(ctx, heartbeatPrefix+beaconID).Err()
}

// ActiveReports returns one consistent snapshot of a vehicle's report set.
// Entries that fail to decode are skipped, not fatal.
func (s *Redis) ActiveReports(ctx context.Context, vehicleID string) ([]beacon.Report, error) {
	fields, err := s.rdb.HGetAll(ctx, reportsKeyPrefix+vehicleID).Result()
	if err != nil {
		return nil, err
	}
	reports := make([]beacon.Report, 0, len(fields))
	for beaconID, raw := range fields {
		var r beacon.Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			log.Printf("skipping malformed report for beacon %s: %v", beaconID, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// VehicleIDs lists every vehicle that currently has a report hash.
func (s *Redis) VehicleIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, reportsKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), reportsKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// VehicleState reads the canonical state, or nil when none exists yet.
func (s *Redis) VehicleState(ctx context.Context, vehicleID string) (*beacon.VehicleState, error) {
	raw, err := s.rdb.Get(ctx, stateKeyPrefix+vehicleID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st beacon.VehicleState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PutVehicleState overwrites the canonical state. No TTL: stale state is
// preferable to no data, and retiring vehicles is a lifecycle concern that
// lives outside this service.
func (s *Redis) PutVehicleState(ctx context.Context, st beacon.VehicleState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKeyPrefix+st.VehicleID, b, 0).Err()
}
