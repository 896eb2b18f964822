package transmit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/capture"
	"github.com/lorawan-server/lorawan-tester/internal/gateway"
	"github.com/lorawan-server/lorawan-tester/internal/metrics"
	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// Sink transmits raw PHY payloads
type Sink interface {
	Send(ctx context.Context, frame []byte) error
}

// CountingSink counts sent and failed frames per sink name
type CountingSink struct {
	name    string
	sink    Sink
	metrics *metrics.Metrics
}

// NewCountingSink wraps sink. m may be nil.
func NewCountingSink(name string, sink Sink, m *metrics.Metrics) *CountingSink {
	return &CountingSink{name: name, sink: sink, metrics: m}
}

// Name returns the sink name used as metric label
func (s *CountingSink) Name() string {
	return s.name
}

// Send forwards frame to the wrapped sink
func (s *CountingSink) Send(ctx context.Context, frame []byte) error {
	err := s.sink.Send(ctx, frame)
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.FramesSent.WithLabelValues(s.name, result).Inc()
	}
	return err
}

// WriterSink writes each frame as a hex line, the input format of the
// external SDR transmitter
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink writes to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Send writes frame
func (s *WriterSink) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.w, hex.EncodeToString(frame)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// txMessage is the downlink message consumed by gateway bridges
type txMessage struct {
	ID        string                 `json:"id"`
	GatewayID string                 `json:"gatewayID"`
	TXPK      gateway.TXPK           `json:"txpk"`
	Downlink  models.DownlinkMessage `json:"downlink"`
}

// NATSSink publishes frames on gateway.<id>.tx for a gateway bridge
type NATSSink struct {
	nc        *nats.Conn
	gatewayID string
	tx        models.TXInfo
}

// NewNATSSink creates a sink for one gateway
func NewNATSSink(nc *nats.Conn, gatewayID string, tx models.TXInfo) (*NATSSink, error) {
	if gatewayID == "" {
		return nil, errors.New("nats sink: gateway id required")
	}
	return &NATSSink{nc: nc, gatewayID: gatewayID, tx: tx}, nil
}

// Subject returns the publish subject
func (s *NATSSink) Subject() string {
	return fmt.Sprintf("gateway.%s.tx", s.gatewayID)
}

// Send publishes frame
func (s *NATSSink) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dl := models.NewDownlinkMessage(frame, s.tx)
	data, err := json.Marshal(txMessage{
		ID:        dl.ID.String(),
		GatewayID: s.gatewayID,
		TXPK:      gateway.NewTXPK(frame, s.tx),
		Downlink:  dl,
	})
	if err != nil {
		return fmt.Errorf("marshal downlink: %w", err)
	}

	if err := s.nc.Publish(s.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", s.Subject(), err)
	}

	log.Info().
		Str("subject", s.Subject()).
		Str("id", dl.ID.String()).
		Int("size", len(frame)).
		Msg("Downlink published")
	return nil
}

// Replay sends every frame of src to sink in order, waiting delay between
// frames. It returns the number of frames sent.
func Replay(ctx context.Context, src capture.Source, sink Sink, delay time.Duration) (int, error) {
	sent := 0
	for {
		f, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sent, nil
			}
			if errors.Is(err, capture.ErrBadRecord) {
				log.Warn().Err(err).Msg("Replay record skipped")
				continue
			}
			return sent, err
		}

		if sent > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return sent, ctx.Err()
			case <-t.C:
			}
		}

		if err := sink.Send(ctx, f.PHYPayload); err != nil {
			return sent, fmt.Errorf("replay %s: %w", f.Source, err)
		}
		sent++

		log.Debug().
			Str("source", f.Source).
			Int("sent", sent).
			Msg("Frame replayed")
	}
}
