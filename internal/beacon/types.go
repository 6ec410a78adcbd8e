package beacon

import (
	"errors"
	"time"

	"beacon-tracker/internal/geo"
)

// Report is one rider device's latest observation for a vehicle. It is
// session-scoped: created on beacon start, overwritten on each sample,
// removed on beacon stop.
type Report struct {
	BeaconID   string    `json:"beaconId"`
	VehicleID  string    `json:"vehicleId"`
	Position   geo.Point `json:"position"`
	AccuracyM  float64   `json:"accuracyMeters"`
	CapturedAt int64     `json:"capturedAtMillis"`
	Active     bool      `json:"active"`
}

func (r *Report) Validate() error {
	if r.BeaconID == "" {
		return errors.New("beaconId required")
	}
	if r.VehicleID == "" {
		return errors.New("vehicleId required")
	}
	if err := geo.Validate(r.Position); err != nil {
		return err
	}
	if r.AccuracyM < 0 {
		return errors.New("accuracyMeters must be >= 0")
	}
	if r.CapturedAt == 0 {
		r.CapturedAt = time.Now().UnixMilli()
	}
	return nil
}

// ClampedAccuracy is the accuracy with the >= 1 m floor applied before any
// weight computation divides by it.
func (r *Report) ClampedAccuracy() float64 {
	if r.AccuracyM < 1 {
		return 1
	}
	return r.AccuracyM
}

// Age of the report relative to now.
func (r *Report) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.CapturedAt))
}

// VehicleState is the canonical fused estimate for one vehicle. It is
// written only by the fusion cycle and never deleted by this service;
// consumers judge staleness from ObservedAt.
type VehicleState struct {
	VehicleID  string    `json:"vehicleId"`
	Position   geo.Point `json:"position"`
	AccuracyM  float64   `json:"accuracyMeters"`
	SpeedMps   *float64  `json:"speedMetersPerSec"` // nil until two observations exist
	BearingDeg float64   `json:"bearingDeg"`
	Beacons    int       `json:"contributingBeaconCount"`
	ObservedAt int64     `json:"observedAtMillis"`
}

// Stale reports whether the state is older than window at now.
func (s *VehicleState) Stale(window time.Duration, now time.Time) bool {
	return now.Sub(time.UnixMilli(s.ObservedAt)) > window
}

// Stop is immutable route reference data owned by the routing side.
type Stop struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Position geo.Point `json:"position"`
	Order    int       `json:"order"`
}
