// Package httpapi exposes the beacon ingest and vehicle query endpoints.
// Beacon devices upsert their latest report here; UI consumers read fused
// state and ETAs. Authentication is deliberately absent: it belongs to the
// gateway in front of this service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/eta"
	"beacon-tracker/internal/metrics"
	"beacon-tracker/internal/store"
	"beacon-tracker/internal/stopdb"
)

type Server struct {
	store   *store.Redis
	stops   *stopdb.Catalog
	etaCfg  eta.Config
	window  time.Duration
	rl      *RateLimiter
	metrics *metrics.Collector
	srv     *http.Server
}

func NewServer(addr string, st *store.Redis, stops *stopdb.Catalog, etaCfg eta.Config,
	window time.Duration, rl *RateLimiter, mcol *metrics.Collector) *Server {
	s := &Server{
		store:   st,
		stops:   stops,
		etaCfg:  etaCfg,
		window:  window,
		rl:      rl,
		metrics: mcol,
	}
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/reports", s.handleIngest).Methods("POST")
	v1.HandleFunc("/beacons/{beaconId}/stop", s.handleBeaconStop).Methods("POST")
	v1.HandleFunc("/vehicles/{vehicleId}", s.handleVehicleState).Methods("GET")
	v1.HandleFunc("/vehicles/{vehicleId}/etas", s.handleVehicleETAs).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) Start() {
	go func() {
		log.Printf("api listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api server error: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var rep beacon.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		s.reject(w, "invalid", "bad json", http.StatusBadRequest)
		return
	}
	if err := rep.Validate(); err != nil {
		s.reject(w, "invalid", "invalid report: "+err.Error(), http.StatusBadRequest)
		return
	}
	if s.rl != nil && !s.rl.Allow(r.Context(), rep.BeaconID) {
		s.reject(w, "rate_limit", "rate limit", http.StatusTooManyRequests)
		return
	}
	rep.Active = true
	if err := s.store.UpsertReport(r.Context(), rep); err != nil {
		s.reject(w, "store", "store error", http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.ReportsIngested.Inc()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (s *Server) handleBeaconStop(w http.ResponseWriter, r *http.Request) {
	beaconID := mux.Vars(r)["beaconId"]
	var body struct {
		VehicleID string `json:"vehicleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VehicleID == "" {
		http.Error(w, "vehicleId required", http.StatusBadRequest)
		return
	}
	if err := s.store.DeactivateReport(r.Context(), body.VehicleID, beaconID); err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type vehicleResponse struct {
	State *beacon.VehicleState `json:"state"`
	Stale bool                 `json:"stale"`
}

func (s *Server) handleVehicleState(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicleId"]
	st, err := s.store.VehicleState(r.Context(), vehicleID)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.Error(w, "no state for vehicle", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, vehicleResponse{State: st, Stale: st.Stale(s.window, time.Now())})
}

type etaResponse struct {
	VehicleID   string       `json:"vehicleId"`
	Stale       bool         `json:"stale"`
	Results     []eta.Result `json:"results"`
	Approaching []eta.Result `json:"approaching"`
	ProgressPct float64      `json:"progressPct"`
	NearestStop string       `json:"nearestStopId,omitempty"`
}

func (s *Server) handleVehicleETAs(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicleId"]
	st, err := s.store.VehicleState(r.Context(), vehicleID)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.Error(w, "no state for vehicle", http.StatusNotFound)
		return
	}
	stops, err := s.stops.StopsForVehicle(r.Context(), vehicleID)
	if err != nil {
		http.Error(w, "stop lookup error", http.StatusInternalServerError)
		return
	}
	now := time.Now()
	results, err := eta.ForStops(st, stops, s.etaCfg, now)
	if err != nil {
		http.Error(w, "eta error", http.StatusInternalServerError)
		return
	}
	resp := etaResponse{
		VehicleID:   vehicleID,
		Stale:       st.Stale(s.window, now),
		Results:     results,
		Approaching: eta.Approaching(results, s.etaCfg),
	}
	if progress, err := eta.RouteProgress(st.Position, stops); err == nil {
		resp.ProgressPct = progress
	}
	if nearest, _, err := eta.NearestStop(st.Position, stops); err == nil && nearest != nil {
		resp.NearestStop = nearest.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reject(w http.ResponseWriter, reason, msg string, code int) {
	if s.metrics != nil {
		s.metrics.ReportsRejected.WithLabelValues(reason).Inc()
	}
	http.Error(w, msg, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
