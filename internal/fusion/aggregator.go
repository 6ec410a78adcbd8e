package fusion

import (
	"errors"
	"math"
	"time"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/geo"
)

// ErrNoReports is returned by Aggregate when no reports are given. It is a
// valid outcome of filtering, not a fault; callers skip the state write.
var ErrNoReports = errors.New("no live beacon reports")

// Estimate is the fused position and accuracy from one set of reports.
type Estimate struct {
	Position  geo.Point
	AccuracyM float64
	Beacons   int
}

// FilterLive drops inactive, malformed and stale reports. A report is stale
// when its captured time is more than window before now.
func FilterLive(reports []beacon.Report, now time.Time, window time.Duration) []beacon.Report {
	live := make([]beacon.Report, 0, len(reports))
	for _, r := range reports {
		if !r.Active {
			continue
		}
		if !r.Position.Valid() {
			continue
		}
		if r.CapturedAt <= 0 || r.Age(now) > window {
			continue
		}
		live = append(live, r)
	}
	return live
}

// Aggregate fuses the given reports into one estimate. A single report is
// taken verbatim. Multiple reports are combined by a weighted average with
// weight 1/max(accuracy, 1), and the fused accuracy is
// max(accuracy)/sqrt(n). That accuracy rule is a deliberate heuristic kept
// from the original behavior, not inverse-variance fusion.
func Aggregate(reports []beacon.Report) (Estimate, error) {
	n := len(reports)
	if n == 0 {
		return Estimate{}, ErrNoReports
	}
	if n == 1 {
		return Estimate{
			Position:  reports[0].Position,
			AccuracyM: reports[0].AccuracyM,
			Beacons:   1,
		}, nil
	}
	var totalWeight, lat, lon, maxAcc float64
	for _, r := range reports {
		w := 1 / r.ClampedAccuracy()
		totalWeight += w
		lat += r.Position.Lat * w
		lon += r.Position.Lon * w
		if r.AccuracyM > maxAcc {
			maxAcc = r.AccuracyM
		}
	}
	return Estimate{
		Position:  geo.Point{Lat: lat / totalWeight, Lon: lon / totalWeight},
		AccuracyM: maxAcc / math.Sqrt(float64(n)),
		Beacons:   n,
	}, nil
}

// NextState builds the new canonical state from a fused estimate. Speed and
// bearing are derived from the prior state when one exists and wall clock
// actually advanced; otherwise speed stays nil. Speed is never clamped:
// implausible jumps are a data quality signal for consumers, not something
// to hide here.
func NextState(prior *beacon.VehicleState, vehicleID string, est Estimate, now time.Time) beacon.VehicleState {
	st := beacon.VehicleState{
		VehicleID:  vehicleID,
		Position:   est.Position,
		AccuracyM:  est.AccuracyM,
		Beacons:    est.Beacons,
		ObservedAt: now.UnixMilli(),
	}
	if prior == nil {
		return st
	}
	elapsed := float64(now.UnixMilli()-prior.ObservedAt) / 1000
	if elapsed <= 0 {
		st.BearingDeg = prior.BearingDeg
		return st
	}
	d, err := geo.DistanceMeters(prior.Position, est.Position)
	if err != nil {
		// prior state with a bad coordinate never got written by us; be safe
		return st
	}
	speed := d / elapsed
	st.SpeedMps = &speed
	if d > 0 {
		st.BearingDeg = geo.BearingDeg(prior.Position, est.Position)
	} else {
		st.BearingDeg = prior.BearingDeg
	}
	return st
}
