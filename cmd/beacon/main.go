// Command beacon runs the adaptive sampler for one rider device and upserts
// the emitted samples into the beacon report store. Raw fixes arrive as JSON
// lines on stdin, one object per line:
//
//	{"lat":37.7749,"lon":-122.4194,"accuracyMeters":12}
//
// which makes the agent easy to feed from a GPS pipe or a replay file.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/config"
	"beacon-tracker/internal/geo"
	"beacon-tracker/internal/sampler"
	"beacon-tracker/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	beaconID := os.Getenv("BEACON_ID")
	vehicleID := os.Getenv("VEHICLE_ID")
	if beaconID == "" || vehicleID == "" {
		log.Fatal("BEACON_ID and VEHICLE_ID must be set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HeartbeatTTL)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer st.Close()

	smp := sampler.New(cfg.Sampler(), &stdinSource{r: os.Stdin}, envPower{})
	if err := smp.Start(ctx); err != nil {
		log.Fatalf("sampler start error: %v", err)
	}
	log.Printf("beacon %s tracking vehicle %s", beaconID, vehicleID)

	for {
		select {
		case <-ctx.Done():
			smp.Stop()
			// best effort: drop our report so fusion stops counting us
			dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := st.DeactivateReport(dctx, vehicleID, beaconID); err != nil {
				log.Printf("deactivate error: %v", err)
			}
			dcancel()
			log.Println("beacon stopped")
			return
		case f := <-smp.Samples():
			rep := beacon.Report{
				BeaconID:   beaconID,
				VehicleID:  vehicleID,
				Position:   f.Position,
				AccuracyM:  f.AccuracyM,
				CapturedAt: f.CapturedAt.UnixMilli(),
				Active:     true,
			}
			if err := st.UpsertReport(ctx, rep); err != nil {
				log.Printf("report upsert error: %v", err)
			}
		case err := <-smp.Errors():
			log.Printf("acquisition error: %v", err)
		}
	}
}

// stdinSource adapts a JSONL reader to the sampler's positioning interface.
type stdinSource struct {
	r io.Reader
}

func (s *stdinSource) Watch(ctx context.Context, _ bool) (<-chan sampler.Fix, <-chan error, error) {
	fixes := make(chan sampler.Fix)
	errs := make(chan error, 1)
	go func() {
		defer close(fixes)
		sc := bufio.NewScanner(s.r)
		for sc.Scan() {
			var raw struct {
				Lat       float64 `json:"lat"`
				Lon       float64 `json:"lon"`
				AccuracyM float64 `json:"accuracyMeters"`
			}
			if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
				select {
				case errs <- err:
				default:
				}
				continue
			}
			f := sampler.Fix{
				Position:   geo.Point{Lat: raw.Lat, Lon: raw.Lon},
				AccuracyM:  raw.AccuracyM,
				CapturedAt: time.Now(),
			}
			select {
			case fixes <- f:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	return fixes, errs, nil
}

// envPower reads BATTERY_LEVEL (0..1) from the environment, when present.
type envPower struct{}

func (envPower) BatteryLevel() (float64, bool) {
	v := os.Getenv("BATTERY_LEVEL")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}
