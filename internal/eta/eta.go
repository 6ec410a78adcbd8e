// Package eta turns one fused vehicle state plus an ordered stop list into
// ranked arrival predictions and approach classifications. All functions are
// pure; nothing here dispatches notifications.
package eta

import (
	"math"
	"sort"
	"time"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/geo"
)

type Config struct {
	// DefaultSpeedMps is used when the vehicle has no speed estimate yet.
	DefaultSpeedMps float64
	// BufferFactor pads the raw travel time for stops and traffic.
	BufferFactor float64
	// ApproachingWithin classifies stops whose buffered ETA is inside it.
	ApproachingWithin time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultSpeedMps:   8.33, // ~30 km/h
		BufferFactor:      1.2,
		ApproachingWithin: 5 * time.Minute,
	}
}

type Result struct {
	StopID           string  `json:"stopId"`
	StopName         string  `json:"stopName"`
	DistanceM        float64 `json:"distanceMeters"`
	ETASeconds       float64 `json:"etaSeconds"`
	ETAMinutes       int     `json:"etaMinutes"`
	EstimatedArrival int64   `json:"estimatedArrivalAtMillis"`
}

// ForStops computes a buffered ETA per stop and returns the results sorted
// ascending by ETASeconds. Callers needing route sequence must re-sort by
// stop order. An invalid vehicle or stop coordinate fails the whole call.
func ForStops(st *beacon.VehicleState, stops []beacon.Stop, cfg Config, now time.Time) ([]Result, error) {
	speed := cfg.DefaultSpeedMps
	if st.SpeedMps != nil && *st.SpeedMps > 0 {
		speed = *st.SpeedMps
	}
	results := make([]Result, 0, len(stops))
	for _, stop := range stops {
		d, err := geo.DistanceMeters(st.Position, stop.Position)
		if err != nil {
			return nil, err
		}
		secs := d / speed * cfg.BufferFactor
		results = append(results, Result{
			StopID:           stop.ID,
			StopName:         stop.Name,
			DistanceM:        d,
			ETASeconds:       secs,
			ETAMinutes:       int(math.Round(secs / 60)),
			EstimatedArrival: now.Add(time.Duration(secs * float64(time.Second))).UnixMilli(),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ETASeconds < results[j].ETASeconds })
	return results, nil
}

// Approaching returns the subset of results within the approach threshold.
// The cutoff is applied in seconds so the set is exactly
// {r : r.ETASeconds <= threshold}.
func Approaching(results []Result, cfg Config) []Result {
	cutoff := cfg.ApproachingWithin.Seconds()
	var out []Result
	for _, r := range results {
		if r.ETASeconds <= cutoff {
			out = append(out, r)
		}
	}
	return out
}

// NearestStop returns the stop closest to pos and its distance in meters.
func NearestStop(pos geo.Point, stops []beacon.Stop) (*beacon.Stop, float64, error) {
	var nearest *beacon.Stop
	minDist := math.Inf(1)
	for i := range stops {
		d, err := geo.DistanceMeters(pos, stops[i].Position)
		if err != nil {
			return nil, 0, err
		}
		if d < minDist {
			minDist = d
			nearest = &stops[i]
		}
	}
	if nearest == nil {
		return nil, 0, nil
	}
	return nearest, minDist, nil
}

// RouteProgress estimates how far along the ordered stop list the vehicle
// is, as a percentage in [0,100]. Stops must already be in route order.
func RouteProgress(pos geo.Point, stops []beacon.Stop) (float64, error) {
	if len(stops) < 2 {
		return 0, nil
	}
	total := 0.0
	nearestIdx := 0
	minDist := math.Inf(1)
	segs := make([]float64, len(stops)-1)
	for i := 0; i < len(stops)-1; i++ {
		d, err := geo.DistanceMeters(stops[i].Position, stops[i+1].Position)
		if err != nil {
			return 0, err
		}
		segs[i] = d
		total += d

		toStop, err := geo.DistanceMeters(pos, stops[i].Position)
		if err != nil {
			return 0, err
		}
		if toStop < minDist {
			minDist = toStop
			nearestIdx = i
		}
	}
	traveled := 0.0
	for i := 0; i < nearestIdx; i++ {
		traveled += segs[i]
	}
	if nearestIdx < len(stops)-1 {
		toNext, err := geo.DistanceMeters(pos, stops[nearestIdx+1].Position)
		if err != nil {
			return 0, err
		}
		traveled += segs[nearestIdx] - toNext
	}
	if total <= 0 {
		return 0, nil
	}
	p := traveled / total * 100
	if p < 0 {
		p = 0
	}
	return math.Min(100, p), nil
}
