package notify

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events on <prefix>.<user_id>.
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

// NewNATSNotifier creates a notifier over an existing connection or publisher.
func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// ConnectNATS dials the NATS server at url.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("autocut-api"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Notify publishes e. Context cancellation is not observed: NATS publishes are
// buffered and return immediately.
func (n *NATSNotifier) Notify(_ context.Context, e Event) error {
	data, err := encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := n.prefix + "." + e.UserID
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
