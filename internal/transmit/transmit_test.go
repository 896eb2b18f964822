package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-tester/internal/capture"
	"github.com/lorawan-server/lorawan-tester/internal/metrics"
	"github.com/lorawan-server/lorawan-tester/internal/models"
)

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	require.NoError(t, s.Send(context.Background(), []byte{0x60, 0x88, 0x88}))
	require.NoError(t, s.Send(context.Background(), []byte{0x01}))
	assert.Equal(t, "608888\n01\n", buf.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, []byte{0x02}), context.Canceled)
}

type failingSink struct{}

func (failingSink) Send(context.Context, []byte) error { return errors.New("radio busy") }

func TestCountingSink(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var buf bytes.Buffer

	ok := NewCountingSink("file", NewWriterSink(&buf), m)
	require.NoError(t, ok.Send(context.Background(), []byte{0x01}))
	require.NoError(t, ok.Send(context.Background(), []byte{0x02}))

	bad := NewCountingSink("udp", failingSink{}, m)
	assert.EqualError(t, bad.Send(context.Background(), []byte{0x03}), "radio busy")

	assert.Equal(t, "file", ok.Name())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("file", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("udp", "error")))

	// nil metrics only forwards
	require.NoError(t, NewCountingSink("x", NewWriterSink(&buf), nil).Send(context.Background(), []byte{0x04}))
}

func TestReplay(t *testing.T) {
	src := capture.NewHexFileSource("cap", strings.NewReader("# header\n0102\nzz\n0304\n0506\n"), capture.HexFileOptions{})
	var buf bytes.Buffer

	start := time.Now()
	n, err := Replay(context.Background(), src, NewWriterSink(&buf), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "0102\n0304\n0506\n", buf.String())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReplayCancelled(t *testing.T) {
	src := capture.NewHexFileSource("cap", strings.NewReader("01\n02\n03\n"), capture.HexFileOptions{})
	var buf bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := Replay(ctx, src, NewWriterSink(&buf), time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, n)
}

func TestNATSSinkRequiresGateway(t *testing.T) {
	_, err := NewNATSSink(nil, "", models.TXInfo{})
	assert.Error(t, err)
}

func TestNATSSink(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer nc.Close()

	sink, err := NewNATSSink(nc, "0102030405060708", models.TXInfo{Frequency: 869.525, Bandwidth: 125, SpreadingFactor: 9, Power: 14})
	require.NoError(t, err)

	sub, err := nc.SubscribeSync(sink.Subject())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, sink.Send(context.Background(), []byte{0x60, 0x01}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var m txMessage
	require.NoError(t, json.Unmarshal(msg.Data, &m))
	assert.Equal(t, "0102030405060708", m.GatewayID)
	assert.Equal(t, "SF9BW125", string(m.TXPK.Datr))
	assert.Equal(t, models.HexBytes{0x60, 0x01}, m.Downlink.PHYPayload)
}
