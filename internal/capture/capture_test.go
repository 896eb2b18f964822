package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

const testCapture = `# lab capture
00000000000000000033333333333333333712af7e4681

20 af 69 af fb 17 5a e4 34 9c c0 db bd 29 24 74 9e
not-hex
40:de:4e:0b:26:80:08:00:01:b7:bd:b6:a9:7d:a3:28:f4:4f:e5:ec:e3:d7:73:95:77:5a
`

func drain(t *testing.T, src Source) ([]models.CapturedFrame, []error) {
	t.Helper()
	var frames []models.CapturedFrame
	var errs []error
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return frames, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, f)
	}
}

func TestHexFileSource(t *testing.T) {
	src := NewHexFileSource("lab", strings.NewReader(testCapture), HexFileOptions{})
	frames, errs := drain(t, src)

	require.Len(t, frames, 3)
	assert.Equal(t, byte(0x00), frames[0].PHYPayload[0])
	assert.Len(t, frames[1].PHYPayload, 17)
	assert.Len(t, frames[2].PHYPayload, 26)
	assert.Equal(t, "lab:2", frames[0].Source)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrBadRecord)
	assert.Contains(t, errs[0].Error(), "line 5")
}

func TestHexFileSourceStripsHeaderAndTrailer(t *testing.T) {
	src := NewHexFileSource("sdr", strings.NewReader("ffee0102030405aabb\nffeeaabb\n"), HexFileOptions{HeaderBytes: 2, TrailerBytes: 2})

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, f.PHYPayload)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrBadRecord)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenHexFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.hex")
	require.NoError(t, os.WriteFile(path, []byte("6088889999200b00ad8b76f9\n"), 0o644))

	src, err := OpenHexFile(path, HexFileOptions{})
	require.NoError(t, err)
	defer src.Close()

	frames, errs := drain(t, src)
	assert.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].PHYPayload, 12)

	_, err = OpenHexFile(filepath.Join(t.TempDir(), "missing"), HexFileOptions{})
	assert.Error(t, err)
}

func TestLoopRunsToEOF(t *testing.T) {
	src := NewHexFileSource("lab", strings.NewReader(testCapture), HexFileOptions{})

	var seen int
	loop := NewLoop(src, HandlerFunc(func(ctx context.Context, f models.CapturedFrame) error {
		seen++
		if seen == 2 {
			return errors.New("boom")
		}
		return nil
	}))

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 3, seen)
	assert.Equal(t, Stats{Frames: 3, Failed: 1, Skipped: 1}, loop.Stats())
}

func TestLoopStopBetweenFrames(t *testing.T) {
	src := NewHexFileSource("lab", strings.NewReader(testCapture), HexFileOptions{})

	var loop *Loop
	loop = NewLoop(src, HandlerFunc(func(ctx context.Context, f models.CapturedFrame) error {
		loop.Stop()
		return nil
	}))

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, uint64(1), loop.Stats().Frames)
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (models.CapturedFrame, error) {
	<-ctx.Done()
	return models.CapturedFrame{}, ctx.Err()
}

func (blockingSource) Close() error { return nil }

func TestLoopContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	loop := NewLoop(blockingSource{}, HandlerFunc(func(context.Context, models.CapturedFrame) error { return nil }))
	assert.ErrorIs(t, loop.Run(ctx), context.DeadlineExceeded)
}

func TestDecodeRXMessage(t *testing.T) {
	msg := `{"gatewayID":"aa555a0000000101","rxpk":{"tmst":1,"freq":868.3,"rssi":-60,"lsnr":7.5,"datr":"SF9BW125","data":"YIiImZkgCwCti3b5"},"timestamp":1700000000}`

	f, err := decodeRXMessage("gateway.aa555a0000000101.rx", []byte(msg))
	require.NoError(t, err)
	assert.Len(t, f.PHYPayload, 12)
	assert.Equal(t, byte(0x60), f.PHYPayload[0])
	assert.Equal(t, int64(1700000000), f.ReceivedAt.Unix())
	assert.Equal(t, "nats:gateway.aa555a0000000101.rx", f.Source)
	require.NotNil(t, f.RXInfo)
	assert.Equal(t, "aa555a0000000101", f.RXInfo.GatewayID)
	assert.Equal(t, -60, f.RXInfo.RSSI)

	_, err = decodeRXMessage("x", []byte("{"))
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestNATSSource(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer nc.Close()

	src, err := NewNATSSource(nc, "")
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, nc.Publish("gateway.0102030405060708.rx",
		[]byte(`{"gatewayID":"0102030405060708","rxpk":{"freq":868.1,"datr":"SF7BW125","data":"YIiImZkgCwCti3b5"}}`)))
	require.NoError(t, nc.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708", f.RXInfo.GatewayID)
}
