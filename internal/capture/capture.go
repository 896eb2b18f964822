package capture

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// Source delivers captured frames one at a time. Next returns io.EOF when
// the source is exhausted.
type Source interface {
	Next(ctx context.Context) (models.CapturedFrame, error)
	Close() error
}

// Handler consumes captured frames
type Handler interface {
	HandleFrame(ctx context.Context, f models.CapturedFrame) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, f models.CapturedFrame) error

// HandleFrame calls fn
func (fn HandlerFunc) HandleFrame(ctx context.Context, f models.CapturedFrame) error {
	return fn(ctx, f)
}

// ErrBadRecord marks a source record that could not be turned into a frame.
// The loop skips such records.
var ErrBadRecord = errors.New("bad capture record")

// Stats counts the frames a loop has seen
type Stats struct {
	Frames  uint64 `json:"frames"`
	Failed  uint64 `json:"failed"`
	Skipped uint64 `json:"skipped"`
}

// Loop feeds frames from a source to a handler until the source ends, the
// context is cancelled or Stop is called. Stop takes effect between frames.
type Loop struct {
	src     Source
	handler Handler

	stopped atomic.Bool
	frames  atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// NewLoop creates a loop
func NewLoop(src Source, h Handler) *Loop {
	return &Loop{src: src, handler: h}
}

// Stop asks the loop to return after the frame in flight
func (l *Loop) Stop() {
	l.stopped.Store(true)
}

// Stats returns the counters so far
func (l *Loop) Stats() Stats {
	return Stats{
		Frames:  l.frames.Load(),
		Failed:  l.failed.Load(),
		Skipped: l.skipped.Load(),
	}
}

// Run processes frames. It returns nil when the source is exhausted or the
// loop was stopped.
func (l *Loop) Run(ctx context.Context) error {
	for !l.stopped.Load() {
		f, err := l.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, ErrBadRecord):
				l.skipped.Add(1)
				log.Warn().Err(err).Msg("Capture record skipped")
				continue
			case ctx.Err() != nil:
				return ctx.Err()
			}
			return err
		}

		l.frames.Add(1)
		if err := l.handler.HandleFrame(ctx, f); err != nil {
			l.failed.Add(1)
			log.Debug().Err(err).Str("source", f.Source).Msg("Frame not processed")
		}
	}

	log.Info().
		Uint64("frames", l.frames.Load()).
		Msg("Capture loop stopped")
	return nil
}
