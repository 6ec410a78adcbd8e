// Package sampler implements the adaptive position sampling loop run on a
// beaconing device. It decouples reporting cadence from the positioning
// hardware's native rate: fixes are retained as they arrive and the latest
// one is emitted on a ticker whose interval widens while the device is
// stationary or battery-constrained, and snaps back to base on movement.
package sampler

import (
	"context"
	"sync"
	"time"

	"beacon-tracker/internal/geo"
)

type State int

const (
	Idle State = iota
	Tracking
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Fix is one raw observation from the positioning capability.
type Fix struct {
	Position   geo.Point
	AccuracyM  float64
	CapturedAt time.Time
}

// PositionSource is the underlying positioning capability. Watch starts
// continuous acquisition and delivers fixes until ctx is cancelled.
// Acquisition failures go to the error channel; the source retries on its
// own policy and the channels stay open until ctx is done.
type PositionSource interface {
	Watch(ctx context.Context, highAccuracy bool) (<-chan Fix, <-chan error, error)
}

// PowerSource reports battery charge in [0,1]. ok is false when the signal
// is unavailable, in which case no battery policy applies.
type PowerSource interface {
	BatteryLevel() (level float64, ok bool)
}

type Config struct {
	BaseInterval         time.Duration
	MinInterval          time.Duration
	MaxInterval          time.Duration
	StationaryThresholdM float64
	HighAccuracy         bool
}

func DefaultConfig() Config {
	return Config{
		BaseInterval:         10 * time.Second,
		MinInterval:          5 * time.Second,
		MaxInterval:          30 * time.Second,
		StationaryThresholdM: 10,
		HighAccuracy:         true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseInterval <= 0 {
		c.BaseInterval = def.BaseInterval
	}
	if c.MinInterval <= 0 {
		c.MinInterval = def.MinInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.StationaryThresholdM <= 0 {
		c.StationaryThresholdM = def.StationaryThresholdM
	}
	return c
}

// Sampler runs one tracking session per Start/Stop pair. Stop releases the
// acquisition subscription and the ticker before returning and clears
// retained state, so a later Start begins a fresh session.
type Sampler struct {
	cfg    Config
	source PositionSource
	power  PowerSource

	mu           sync.Mutex
	state        State
	last         *Fix
	stationary   int
	moveInterval time.Duration
	background   bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	out  chan Fix
	errs chan error
}

func New(cfg Config, source PositionSource, power PowerSource) *Sampler {
	cfg = cfg.withDefaults()
	return &Sampler{
		cfg:          cfg,
		source:       source,
		power:        power,
		moveInterval: cfg.BaseInterval,
		out:          make(chan Fix, 1),
		errs:         make(chan error, 8),
	}
}

// Samples delivers the latest retained fix at the current interval.
func (s *Sampler) Samples() <-chan Fix { return s.out }

// Errors delivers acquisition failures. The loop keeps running after one.
func (s *Sampler) Errors() <-chan error { return s.errs }

func (s *Sampler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a tracking session. Calling it while already tracking is a
// no-op.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Tracking {
		s.mu.Unlock()
		return nil
	}
	s.last = nil
	s.stationary = 0
	s.moveInterval = s.cfg.BaseInterval
	wctx, cancel := context.WithCancel(ctx)
	fixes, srcErrs, err := s.source.Watch(wctx, s.cfg.HighAccuracy)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return err
	}
	s.cancel = cancel
	s.state = Tracking
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(wctx, fixes, srcErrs)
	return nil
}

// Stop ends the session: it cancels the acquisition subscription, waits for
// the loop to exit so no emission happens after Stop returns, and clears
// retained state.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.state != Tracking {
		s.state = Stopped
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.state = Stopped
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.last = nil
	s.stationary = 0
	s.moveInterval = s.cfg.BaseInterval
	s.mu.Unlock()
}

// SetBackground forces the maximum interval while the device is backgrounded.
func (s *Sampler) SetBackground(background bool) {
	s.mu.Lock()
	s.background = background
	s.mu.Unlock()
}

func (s *Sampler) loop(ctx context.Context, fixes <-chan Fix, srcErrs <-chan error) {
	defer s.wg.Done()
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fixes:
			if !ok {
				return
			}
			s.observe(f)
		case err, ok := <-srcErrs:
			if !ok {
				srcErrs = nil
				continue
			}
			if err != nil {
				s.reportError(err)
			}
		case <-timer.C:
			s.emitLatest()
			timer.Reset(s.Interval())
		}
	}
}

// observe retains a raw fix and applies the movement policy: below-threshold
// movement for more than three consecutive fixes widens the interval by x1.5
// toward the max; any real movement resets it to base.
func (s *Sampler) observe(f Fix) {
	if err := geo.Validate(f.Position); err != nil {
		s.reportError(err)
		return
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		d, err := geo.DistanceMeters(s.last.Position, f.Position)
		if err == nil {
			if d < s.cfg.StationaryThresholdM {
				s.stationary++
				if s.stationary > 3 {
					widened := time.Duration(float64(s.moveInterval) * 1.5)
					if widened > s.cfg.MaxInterval {
						widened = s.cfg.MaxInterval
					}
					s.moveInterval = widened
				}
			} else {
				s.stationary = 0
				s.moveInterval = s.cfg.BaseInterval
			}
		}
	}
	s.last = &f
}

// Interval is the current effective emission interval: the more conservative
// of the movement and battery policies, overridden by background mode, then
// clamped to [min, max].
func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv := s.moveInterval
	if s.power != nil {
		if level, ok := s.power.BatteryLevel(); ok {
			var batteryIv time.Duration
			switch {
			case level < 0.2:
				batteryIv = s.cfg.MaxInterval
			case level < 0.5:
				batteryIv = 2 * s.cfg.BaseInterval
			}
			if batteryIv > iv {
				iv = batteryIv
			}
		}
	}
	if s.background {
		iv = s.cfg.MaxInterval
	}
	if iv < s.cfg.MinInterval {
		iv = s.cfg.MinInterval
	}
	if iv > s.cfg.MaxInterval {
		iv = s.cfg.MaxInterval
	}
	return iv
}

func (s *Sampler) emitLatest() {
	s.mu.Lock()
	if s.last == nil {
		s.mu.Unlock()
		return
	}
	f := *s.last
	s.mu.Unlock()
	// keep only the freshest sample when the consumer lags
	select {
	case s.out <- f:
	default:
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- f:
		default:
		}
	}
}

func (s *Sampler) reportError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
