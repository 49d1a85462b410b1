package bus

import (
	"errors"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
)

// NatsBus is a thin wrapper over a NATS connection that speaks protobuf messages.
type NatsBus struct {
	nc *nats.Conn
}

var (
	errNilBus     = errors.New("nats bus not initialized")
	errNilMessage = errors.New("nil message")
	errEmptyTopic = errors.New("empty subject")
)

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("jobcore-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[BUS] disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close drains and closes the underlying connection.
func (b *NatsBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}

// Publish sends a protobuf-encoded message on subject.
func (b *NatsBus) Publish(subject string, msg proto.Message) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if msg == nil {
		return errNilMessage
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe decodes messages on subject into a fresh value from newMsg and
// hands them to handler. Undecodable payloads are logged and dropped.
func (b *NatsBus) Subscribe(subject string, newMsg func() proto.Message, handler func(proto.Message)) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if newMsg == nil || handler == nil {
		return errors.New("nil handler")
	}
	_, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		msg := newMsg()
		if err := proto.Unmarshal(m.Data, msg); err != nil {
			log.Printf("nats bus: failed to unmarshal message on %s: %v", m.Subject, err)
			return
		}
		handler(msg)
	})
	return err
}

// IsConnected reports whether the connection is up.
func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}
