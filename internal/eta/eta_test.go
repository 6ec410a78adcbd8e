package eta

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/geo"
)

func vehicleAt(lat, lon float64, speed *float64) *beacon.VehicleState {
	return &beacon.VehicleState{
		VehicleID:  "bus-1",
		Position:   geo.Point{Lat: lat, Lon: lon},
		AccuracyM:  10,
		SpeedMps:   speed,
		Beacons:    1,
		ObservedAt: time.Now().UnixMilli(),
	}
}

func TestForStops(t *testing.T) {
	t.Parallel()
	now := time.Now()
	cfg := DefaultConfig()

	t.Run("default cruising speed with buffer", func(t *testing.T) {
		t.Parallel()
		// ~1417 m at 8.33 m/s, buffered by 1.2
		st := vehicleAt(37.7749, -122.4194, nil)
		stops := []beacon.Stop{{ID: "s1", Name: "Main St", Position: geo.Point{Lat: 37.7849, Lon: -122.4094}, Order: 1}}
		results, err := ForStops(st, stops, cfg, now)
		require.NoError(t, err)
		require.Len(t, results, 1)
		r := results[0]
		assert.InDelta(t, 1417.3, r.DistanceM, 0.5)
		assert.InDelta(t, 204.2, r.ETASeconds, 0.5)
		assert.Equal(t, 3, r.ETAMinutes)
		assert.InDelta(t, float64(now.UnixMilli())+r.ETASeconds*1000, float64(r.EstimatedArrival), 2)
	})

	t.Run("vehicle speed overrides the default", func(t *testing.T) {
		t.Parallel()
		speed := 20.0
		st := vehicleAt(37.7749, -122.4194, &speed)
		stops := []beacon.Stop{{ID: "s1", Position: geo.Point{Lat: 37.7849, Lon: -122.4094}}}
		results, err := ForStops(st, stops, cfg, now)
		require.NoError(t, err)
		assert.InDelta(t, 1417.3/20*1.2, results[0].ETASeconds, 0.5)
	})

	t.Run("zero speed falls back to the default", func(t *testing.T) {
		t.Parallel()
		zero := 0.0
		st := vehicleAt(37.7749, -122.4194, &zero)
		stops := []beacon.Stop{{ID: "s1", Position: geo.Point{Lat: 37.7849, Lon: -122.4094}}}
		results, err := ForStops(st, stops, cfg, now)
		require.NoError(t, err)
		assert.InDelta(t, 204.2, results[0].ETASeconds, 0.5)
	})

	t.Run("zero distance yields zero eta", func(t *testing.T) {
		t.Parallel()
		st := vehicleAt(37.7749, -122.4194, nil)
		stops := []beacon.Stop{{ID: "here", Position: geo.Point{Lat: 37.7749, Lon: -122.4194}}}
		results, err := ForStops(st, stops, cfg, now)
		require.NoError(t, err)
		assert.Zero(t, results[0].DistanceM)
		assert.Zero(t, results[0].ETASeconds)
		assert.Zero(t, results[0].ETAMinutes)
	})

	t.Run("results sorted ascending by eta seconds", func(t *testing.T) {
		t.Parallel()
		st := vehicleAt(37.7749, -122.4194, nil)
		stops := []beacon.Stop{
			{ID: "far", Position: geo.Point{Lat: 38.2, Lon: -122.4194}, Order: 1},
			{ID: "near", Position: geo.Point{Lat: 37.7760, Lon: -122.4194}, Order: 2},
			{ID: "mid", Position: geo.Point{Lat: 37.9, Lon: -122.4194}, Order: 3},
		}
		results, err := ForStops(st, stops, cfg, now)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, sort.SliceIsSorted(results, func(i, j int) bool {
			return results[i].ETASeconds < results[j].ETASeconds
		}))
		assert.Equal(t, "near", results[0].StopID)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.ETASeconds, 0.0)
		}
	})

	t.Run("invalid stop coordinate fails loudly", func(t *testing.T) {
		t.Parallel()
		st := vehicleAt(37.7749, -122.4194, nil)
		stops := []beacon.Stop{{ID: "bad", Position: geo.Point{Lat: 200, Lon: 0}}}
		_, err := ForStops(st, stops, cfg, now)
		assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
	})
}

func TestApproaching(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	results := []Result{
		{StopID: "a", ETASeconds: 0, ETAMinutes: 0},
		{StopID: "b", ETASeconds: 299.9, ETAMinutes: 5},
		{StopID: "c", ETASeconds: 300, ETAMinutes: 5},
		{StopID: "d", ETASeconds: 300.1, ETAMinutes: 5},
		{StopID: "e", ETASeconds: 1200, ETAMinutes: 20},
	}
	got := Approaching(results, cfg)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.StopID)
	}
	// exactly the set with etaSeconds <= 300
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestNearestStop(t *testing.T) {
	t.Parallel()
	pos := geo.Point{Lat: 37.7749, Lon: -122.4194}
	stops := []beacon.Stop{
		{ID: "far", Position: geo.Point{Lat: 38.0, Lon: -122.4194}},
		{ID: "near", Position: geo.Point{Lat: 37.7751, Lon: -122.4194}},
	}
	nearest, dist, err := NearestStop(pos, stops)
	require.NoError(t, err)
	require.NotNil(t, nearest)
	assert.Equal(t, "near", nearest.ID)
	assert.Less(t, dist, 100.0)

	nearest, _, err = NearestStop(pos, nil)
	require.NoError(t, err)
	assert.Nil(t, nearest)
}

func TestRouteProgress(t *testing.T) {
	t.Parallel()
	stops := []beacon.Stop{
		{ID: "a", Position: geo.Point{Lat: 37.70, Lon: -122.4194}, Order: 1},
		{ID: "b", Position: geo.Point{Lat: 37.75, Lon: -122.4194}, Order: 2},
		{ID: "c", Position: geo.Point{Lat: 37.80, Lon: -122.4194}, Order: 3},
	}

	t.Run("at origin", func(t *testing.T) {
		t.Parallel()
		p, err := RouteProgress(stops[0].Position, stops)
		require.NoError(t, err)
		assert.InDelta(t, 0, p, 1)
	})

	t.Run("midway", func(t *testing.T) {
		t.Parallel()
		p, err := RouteProgress(geo.Point{Lat: 37.75, Lon: -122.4194}, stops)
		require.NoError(t, err)
		assert.InDelta(t, 50, p, 2)
	})

	t.Run("at terminus", func(t *testing.T) {
		t.Parallel()
		p, err := RouteProgress(stops[2].Position, stops)
		require.NoError(t, err)
		assert.InDelta(t, 100, p, 1)
	})

	t.Run("bounded to [0,100]", func(t *testing.T) {
		t.Parallel()
		p, err := RouteProgress(geo.Point{Lat: 37.60, Lon: -122.4194}, stops)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
	})

	t.Run("fewer than two stops", func(t *testing.T) {
		t.Parallel()
		p, err := RouteProgress(stops[0].Position, stops[:1])
		require.NoError(t, err)
		assert.Zero(t, p)
	})
}
