package notifications

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes on a nats subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url and wraps the connection in a bus.
func ConnectNATS(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url, nats.Name("bulletin"))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %v: %w", url, err)
	}
	return NewNATSBus(conn), nil
}

func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, subject: InvalidationSubject}
}

func (b *NATSBus) Name() string { return "nats" }

func (b *NATSBus) Publish(_ context.Context, payload []byte) error {
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", b.subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, onMessage func(payload []byte)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		deliver(b.Name(), onMessage, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
