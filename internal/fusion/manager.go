package fusion

import (
	"context"
	"log"
	"sync"
	"time"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/eta"
	mmetrics "beacon-tracker/internal/metrics"
)

// ReportSource is the external beacon report store. ActiveReports must
// return a single consistent snapshot of the vehicle's report set.
type ReportSource interface {
	ActiveReports(ctx context.Context, vehicleID string) ([]beacon.Report, error)
	VehicleIDs(ctx context.Context) ([]string, error)
}

// StateStore holds the canonical per-vehicle state.
type StateStore interface {
	VehicleState(ctx context.Context, vehicleID string) (*beacon.VehicleState, error)
	PutVehicleState(ctx context.Context, st beacon.VehicleState) error
}

// StopSource supplies the ordered stop list for a vehicle's route.
type StopSource interface {
	StopsForVehicle(ctx context.Context, vehicleID string) ([]beacon.Stop, error)
}

// Emitter receives fused state and derived ETA outputs. Delivery is a
// collaborator concern; publish errors are logged and never fail a cycle.
type Emitter interface {
	PublishState(vehicleID string, st beacon.VehicleState) error
	PublishETAs(vehicleID string, results []eta.Result) error
	PublishApproaching(vehicleID string, results []eta.Result) error
}

// Manager runs one fusion cycle goroutine per vehicle. A vehicle's cycle is
// the only writer of its state, which serializes read-fuse-write per key;
// different vehicles run fully in parallel and share nothing in-process.
type Manager struct {
	reports  ReportSource
	states   StateStore
	stops    StopSource
	emitter  Emitter
	interval time.Duration
	window   time.Duration
	etaCfg   eta.Config
	metrics  *mmetrics.Collector

	// a vehicle cycle exits after this many consecutive ticks with an
	// empty report set; the refresher restarts it when reports return
	idleTicks int

	mu      sync.Mutex
	running map[string]context.CancelFunc // vehicleID -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewManager(reports ReportSource, states StateStore, stops StopSource, emitter Emitter,
	interval, window time.Duration, etaCfg eta.Config, metrics *mmetrics.Collector) *Manager {
	return &Manager{
		reports:   reports,
		states:    states,
		stops:     stops,
		emitter:   emitter,
		interval:  interval,
		window:    window,
		etaCfg:    etaCfg,
		metrics:   metrics,
		idleTicks: 20,
		running:   make(map[string]context.CancelFunc),
	}
}

// Start launches the vehicle discovery refresher, which also performs an
// immediate refresh.
func (m *Manager) Start(parent context.Context, refreshInterval time.Duration) {
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		if err := m.Refresh(ctx); err != nil {
			log.Printf("vehicle refresh error: %v", err)
		}
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Refresh(ctx); err != nil {
					log.Printf("vehicle refresh error: %v", err)
				}
			}
		}
	}()
}

// Refresh scans the report store for vehicles with beacon activity and
// starts a cycle for any that are not already running.
func (m *Manager) Refresh(ctx context.Context) error {
	ids, err := m.reports.VehicleIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.startVehicle(ctx, id)
	}
	return nil
}

func (m *Manager) startVehicle(parent context.Context, vehicleID string) {
	m.mu.Lock()
	if _, exists := m.running[vehicleID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[vehicleID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.ActiveVehicles.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	log.Printf("starting fusion cycle for vehicle %s", vehicleID)
	go func() {
		defer m.wg.Done()
		if err := m.runVehicle(ctx, vehicleID); err != nil && err != context.Canceled {
			log.Printf("vehicle %s cycle error: %v", vehicleID, err)
		}
		m.mu.Lock()
		delete(m.running, vehicleID)
		if m.metrics != nil {
			m.metrics.ActiveVehicles.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) runVehicle(ctx context.Context, vehicleID string) error {
	tick := time.NewTicker(m.interval)
	defer tick.Stop()

	idle := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			start := time.Now()
			// a cycle that cannot finish within 2x its period is
			// abandoned for this tick; prior state stays untouched
			cctx, cancel := context.WithTimeout(ctx, 2*m.interval)
			empty, err := m.Cycle(cctx, vehicleID)
			cancel()
			if m.metrics != nil {
				m.metrics.CycleDuration.Observe(time.Since(start).Seconds())
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("vehicle %s fusion tick failed, retrying next tick: %v", vehicleID, err)
				if m.metrics != nil {
					m.metrics.CycleErrors.Inc()
				}
				continue
			}
			if empty {
				idle++
				if idle >= m.idleTicks {
					log.Printf("vehicle %s has no beacon reports, stopping cycle", vehicleID)
					return nil
				}
				continue
			}
			idle = 0
		}
	}
}

// Cycle executes one fusion pass for a vehicle: snapshot reports, filter,
// fuse, write state, derive ETAs, emit. It returns empty=true when no
// reports exist at all for the vehicle. Zero live reports after filtering
// produces no state write; the prior value is retained and consumers judge
// staleness from its observation time.
func (m *Manager) Cycle(ctx context.Context, vehicleID string) (empty bool, err error) {
	reports, err := m.reports.ActiveReports(ctx, vehicleID)
	if err != nil {
		return false, err
	}
	if m.metrics != nil {
		m.metrics.FusionCycles.Inc()
	}
	now := time.Now()
	live := FilterLive(reports, now, m.window)
	if len(live) == 0 {
		if m.metrics != nil {
			m.metrics.EmptyCycles.Inc()
		}
		return len(reports) == 0, nil
	}
	est, err := Aggregate(live)
	if err != nil {
		return false, err
	}
	prior, err := m.states.VehicleState(ctx, vehicleID)
	if err != nil {
		return false, err
	}
	st := NextState(prior, vehicleID, est, now)
	if err := m.states.PutVehicleState(ctx, st); err != nil {
		return false, err
	}
	if m.metrics != nil {
		m.metrics.ContributingBeacons.Observe(float64(est.Beacons))
	}

	m.emit(ctx, vehicleID, st, now)
	return false, nil
}

func (m *Manager) emit(ctx context.Context, vehicleID string, st beacon.VehicleState, now time.Time) {
	if m.emitter == nil {
		return
	}
	if err := m.emitter.PublishState(vehicleID, st); err != nil {
		log.Printf("vehicle %s state publish error: %v", vehicleID, err)
	}
	if m.stops == nil {
		return
	}
	stops, err := m.stops.StopsForVehicle(ctx, vehicleID)
	if err != nil {
		log.Printf("vehicle %s stop lookup error: %v", vehicleID, err)
		return
	}
	if len(stops) == 0 {
		return
	}
	results, err := eta.ForStops(&st, stops, m.etaCfg, now)
	if err != nil {
		log.Printf("vehicle %s eta error: %v", vehicleID, err)
		return
	}
	if err := m.emitter.PublishETAs(vehicleID, results); err != nil {
		log.Printf("vehicle %s eta publish error: %v", vehicleID, err)
	}
	if approaching := eta.Approaching(results, m.etaCfg); len(approaching) > 0 {
		if err := m.emitter.PublishApproaching(vehicleID, approaching); err != nil {
			log.Printf("vehicle %s approach publish error: %v", vehicleID, err)
		}
	}
}

// Stop cancels the refresher and every vehicle cycle, then waits for them.
func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
