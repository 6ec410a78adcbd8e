package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"beacon-tracker/internal/beacon"
	"beacon-tracker/internal/eta"
)

// NATSPublisher emits fused vehicle state and derived ETA results as plain
// JSON events. Notification delivery and UI fan-out live behind NATS.
type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("beacon-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type ETAMessage struct {
	VehicleID   string       `json:"vehicleId"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Results     []eta.Result `json:"results"`
}

func (p *NATSPublisher) PublishState(vehicleID string, st beacon.VehicleState) error {
	return p.publish(fmt.Sprintf("vehicles.%s.state", subjectToken(vehicleID)), st)
}

func (p *NATSPublisher) PublishETAs(vehicleID string, results []eta.Result) error {
	msg := ETAMessage{VehicleID: vehicleID, GeneratedAt: time.Now(), Results: results}
	return p.publish(fmt.Sprintf("vehicles.%s.eta", subjectToken(vehicleID)), msg)
}

// PublishApproaching emits the stops classified as within the approach
// threshold. Dispatching rider notifications from these events is the
// consumer's job.
func (p *NATSPublisher) PublishApproaching(vehicleID string, results []eta.Result) error {
	msg := ETAMessage{VehicleID: vehicleID, GeneratedAt: time.Now(), Results: results}
	return p.publish(fmt.Sprintf("vehicles.%s.approaching", subjectToken(vehicleID)), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
