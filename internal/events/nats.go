package events

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes on <prefix>.<departure>.<kind>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("shuttle-backend"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("⚠️  NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("✅ NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("🔴 NATS closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if prefix == "" {
		prefix = "shuttle.trips"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	b, err := e.Marshal()
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.prefix, e), b)
}

func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.nc.Close()
	return err
}

// Subject builds the subject for an event, e.g. shuttle.trips.dep-1.status
func Subject(prefix string, e Event) string {
	kind := "status"
	if e.Type == TypeTripLocation {
		kind = "position"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(e.DepartureID), kind)
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
