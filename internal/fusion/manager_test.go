package fusion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/eta"
	"beacon-tracker/internal/geo"
)

type fakeReports struct {
	reports map[string][]beacon.Report
	err     error
}

func (f *fakeReports) ActiveReports(_ context.Context, vehicleID string) ([]beacon.Report, error) {
	return f.reports[vehicleID], f.err
}

func (f *fakeReports) VehicleIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id := range f.reports {
		ids = append(ids, id)
	}
	return ids, f.err
}

type fakeStates struct {
	mu     sync.Mutex
	states map[string]beacon.VehicleState
	writes int
	err    error
}

func (f *fakeStates) VehicleState(_ context.Context, vehicleID string) (*beacon.VehicleState, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[vehicleID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeStates) PutVehicleState(_ context.Context, st beacon.VehicleState) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = map[string]beacon.VehicleState{}
	}
	f.states[st.VehicleID] = st
	f.writes++
	return nil
}

func (f *fakeStates) get(vehicleID string) beacon.VehicleState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[vehicleID]
}

func (f *fakeStates) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fakeStops struct {
	stops []beacon.Stop
}

func (f *fakeStops) StopsForVehicle(_ context.Context, _ string) ([]beacon.Stop, error) {
	return f.stops, nil
}

type fakeEmitter struct {
	mu          sync.Mutex
	states      []beacon.VehicleState
	etas        [][]eta.Result
	approaching [][]eta.Result
}

func (f *fakeEmitter) PublishState(_ string, st beacon.VehicleState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, st)
	return nil
}

func (f *fakeEmitter) PublishETAs(_ string, rs []eta.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.etas = append(f.etas, rs)
	return nil
}

func (f *fakeEmitter) PublishApproaching(_ string, rs []eta.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approaching = append(f.approaching, rs)
	return nil
}

func newTestManager(reports *fakeReports, states *fakeStates, stops *fakeStops, emitter *fakeEmitter) *Manager {
	return NewManager(reports, states, stops, emitter,
		10*time.Second, 120*time.Second, eta.DefaultConfig(), nil)
}

func TestCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("fuses live reports and writes state", func(t *testing.T) {
		now := time.Now()
		reports := &fakeReports{reports: map[string][]beacon.Report{
			"bus-1": {
				report("b1", 37.7749, -122.4194, 10, now),
				report("b2", 37.7749, -122.4194, 50, now),
			},
		}}
		states := &fakeStates{}
		emitter := &fakeEmitter{}
		m := newTestManager(reports, states, &fakeStops{}, emitter)

		empty, err := m.Cycle(ctx, "bus-1")
		require.NoError(t, err)
		assert.False(t, empty)
		require.Equal(t, 1, states.writeCount())
		st := states.get("bus-1")
		assert.Equal(t, 2, st.Beacons)
		assert.InDelta(t, 37.7749, st.Position.Lat, 1e-9)
		require.Len(t, emitter.states, 1)
	})

	t.Run("all reports stale means no state write", func(t *testing.T) {
		now := time.Now()
		prior := beacon.VehicleState{
			VehicleID:  "bus-1",
			Position:   geo.Point{Lat: 37.0, Lon: -122.0},
			ObservedAt: now.Add(-10 * time.Minute).UnixMilli(),
		}
		reports := &fakeReports{reports: map[string][]beacon.Report{
			"bus-1": {report("b1", 37.7749, -122.4194, 10, now.Add(-3*time.Minute))},
		}}
		states := &fakeStates{states: map[string]beacon.VehicleState{"bus-1": prior}}
		m := newTestManager(reports, states, &fakeStops{}, &fakeEmitter{})

		empty, err := m.Cycle(ctx, "bus-1")
		require.NoError(t, err)
		assert.False(t, empty) // reports exist, they are just stale
		assert.Zero(t, states.writeCount())
		assert.Equal(t, prior, states.get("bus-1")) // prior value untouched
	})

	t.Run("no reports at all is an empty cycle", func(t *testing.T) {
		reports := &fakeReports{reports: map[string][]beacon.Report{}}
		states := &fakeStates{}
		m := newTestManager(reports, states, &fakeStops{}, &fakeEmitter{})

		empty, err := m.Cycle(ctx, "bus-1")
		require.NoError(t, err)
		assert.True(t, empty)
		assert.Zero(t, states.writeCount())
	})

	t.Run("back to back cycles are idempotent on position and accuracy", func(t *testing.T) {
		now := time.Now()
		reports := &fakeReports{reports: map[string][]beacon.Report{
			"bus-1": {
				report("b1", 37.7749, -122.4194, 10, now),
				report("b2", 37.7750, -122.4195, 30, now),
			},
		}}
		states := &fakeStates{}
		m := newTestManager(reports, states, &fakeStops{}, &fakeEmitter{})

		_, err := m.Cycle(ctx, "bus-1")
		require.NoError(t, err)
		first := states.get("bus-1")
		_, err = m.Cycle(ctx, "bus-1")
		require.NoError(t, err)
		second := states.get("bus-1")

		assert.Equal(t, first.Position, second.Position)
		assert.Equal(t, first.AccuracyM, second.AccuracyM)
		if second.SpeedMps != nil {
			// unchanged position, so any computed speed must be zero
			assert.Zero(t, *second.SpeedMps)
		}
	})

	t.Run("report store error aborts the tick", func(t *testing.T) {
		reports := &fakeReports{err: errors.New("store unavailable")}
		states := &fakeStates{}
		m := newTestManager(reports, states, &fakeStops{}, &fakeEmitter{})

		_, err := m.Cycle(ctx, "bus-1")
		require.Error(t, err)
		assert.Zero(t, states.writeCount())
	})

	t.Run("state write error leaves nothing half done", func(t *testing.T) {
		now := time.Now()
		reports := &fakeReports{reports: map[string][]beacon.Report{
			"bus-1": {report("b1", 37.0, -122.0, 10, now)},
		}}
		states := &fakeStates{err: errors.New("store unavailable")}
		emitter := &fakeEmitter{}
		m := newTestManager(reports, states, &fakeStops{}, emitter)

		_, err := m.Cycle(ctx, "bus-1")
		require.Error(t, err)
		assert.Empty(t, emitter.states)
	})

	t.Run("emits etas and approaching stops", func(t *testing.T) {
		now := time.Now()
		reports := &fakeReports{reports: map[string][]beacon.Report{
			"bus-1": {report("b1", 37.7749, -122.4194, 10, now)},
		}}
		stops := &fakeStops{stops: []beacon.Stop{
			{ID: "far", Name: "Far", Position: geo.Point{Lat: 38.5, Lon: -122.4194}, Order: 2},
			{ID: "near", Name: "Near", Position: geo.Point{Lat: 37.7755, Lon: -122.4194}, Order: 1},
		}}
		emitter := &fakeEmitter{}
		m := newTestManager(reports, &fakeStates{}, stops, emitter)

		_, err := m.Cycle(ctx, "bus-1")
		require.NoError(t, err)
		require.Len(t, emitter.etas, 1)
		results := emitter.etas[0]
		require.Len(t, results, 2)
		assert.Equal(t, "near", results[0].StopID) // sorted by eta, not stop order
		require.Len(t, emitter.approaching, 1)
		require.Len(t, emitter.approaching[0], 1)
		assert.Equal(t, "near", emitter.approaching[0][0].StopID)
	})
}

func TestManagerStartStop(t *testing.T) {
	now := time.Now()
	reports := &fakeReports{reports: map[string][]beacon.Report{
		"bus-1": {report("b1", 37.0, -122.0, 10, now)},
		"bus-2": {report("b2", 37.1, -122.1, 10, now)},
	}}
	m := newTestManager(reports, &fakeStates{}, &fakeStops{}, &fakeEmitter{})
	m.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, time.Hour)

	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.running) == 2
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.running)
}
