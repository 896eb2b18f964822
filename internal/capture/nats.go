package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/gateway"
	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// DefaultRXSubject matches uplinks published by gateway bridges
const DefaultRXSubject = "gateway.*.rx"

// rxMessage is the uplink message a gateway bridge publishes on NATS
type rxMessage struct {
	GatewayID string       `json:"gatewayID"`
	RXPK      gateway.RXPK `json:"rxpk"`
	Timestamp int64        `json:"timestamp,omitempty"`
}

// NATSSource receives uplinks from gateway bridges over NATS
type NATSSource struct {
	sub  *nats.Subscription
	msgs chan *nats.Msg
}

// NewNATSSource subscribes to subject on nc
func NewNATSSource(nc *nats.Conn, subject string) (*NATSSource, error) {
	if subject == "" {
		subject = DefaultRXSubject
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Info().
		Str("subject", subject).
		Msg("NATS capture subscribed")

	return &NATSSource{sub: sub, msgs: msgs}, nil
}

// Next waits for the next uplink message
func (s *NATSSource) Next(ctx context.Context) (models.CapturedFrame, error) {
	select {
	case <-ctx.Done():
		return models.CapturedFrame{}, ctx.Err()
	case msg, ok := <-s.msgs:
		if !ok {
			return models.CapturedFrame{}, io.EOF
		}
		return decodeRXMessage(msg.Subject, msg.Data)
	}
}

// Close unsubscribes
func (s *NATSSource) Close() error {
	return s.sub.Unsubscribe()
}

func decodeRXMessage(subject string, data []byte) (models.CapturedFrame, error) {
	var m rxMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return models.CapturedFrame{}, fmt.Errorf("%w: %s: %v", ErrBadRecord, subject, err)
	}

	f, err := m.RXPK.CapturedFrame(m.GatewayID)
	if err != nil {
		return models.CapturedFrame{}, fmt.Errorf("%w: %s: %v", ErrBadRecord, subject, err)
	}
	if m.Timestamp > 0 {
		f.ReceivedAt = time.Unix(m.Timestamp, 0)
	}
	f.Source = "nats:" + subject
	return f, nil
}
