package analyzer

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/models"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

// Publisher receives every analysed frame record
type Publisher interface {
	Publish(ctx context.Context, rec *models.FrameRecord) error
}

// Pipeline connects a capture source to the analyzer: it drops copies of
// a frame heard by several gateways, analyses it, logs the outcome and
// forwards the record. A frame repeated by the same gateway, or by a source
// without gateway metadata, is a retransmission or replay and is analysed
// again.
type Pipeline struct {
	analyzer  *Analyzer
	publisher Publisher
	seen      *dedupCache
}

// NewPipeline creates a pipeline. publisher may be nil; a zero dedup
// window disables deduplication.
func NewPipeline(a *Analyzer, publisher Publisher, dedupWindow time.Duration) *Pipeline {
	p := &Pipeline{analyzer: a, publisher: publisher}
	if dedupWindow > 0 {
		p.seen = newDedupCache(dedupWindow)
	}
	return p
}

// HandleFrame analyses one captured frame
func (p *Pipeline) HandleFrame(ctx context.Context, f models.CapturedFrame) error {
	if p.seen != nil && f.RXInfo != nil && f.RXInfo.GatewayID != "" &&
		p.seen.checkAndSet(hex.EncodeToString(f.PHYPayload), f.RXInfo.GatewayID, f.ReceivedAt) {
		log.Debug().
			Str("source", f.Source).
			Str("gatewayID", f.RXInfo.GatewayID).
			Msg("Duplicate frame ignored")
		return nil
	}

	rec, err := p.analyzer.Analyze(ctx, f)
	logRecord(rec, err)

	if rec != nil && p.publisher != nil {
		if perr := p.publisher.Publish(ctx, rec); perr != nil {
			log.Warn().Err(perr).Str("frame", rec.ID.String()).Msg("Publish frame record failed")
		}
	}
	return err
}

func logRecord(rec *models.FrameRecord, err error) {
	var ev *zerolog.Event
	switch {
	case err == nil:
		ev = log.Info()
	case lorawan.Recoverable(err), errors.Is(err, ErrIncompleteHandshake):
		ev = log.Info().Err(err)
	default:
		ev = log.Warn().Err(err)
	}

	ev = ev.
		Str("frame", rec.ID.String()).
		Str("mtype", rec.MType).
		Str("result", rec.Result).
		Str("state", rec.State)
	if rec.DevAddr != "" {
		ev = ev.Str("devAddr", rec.DevAddr)
	}
	if rec.FCnt != nil {
		ev = ev.Uint32("fCnt", *rec.FCnt)
	}
	if rec.Text != "" {
		ev = ev.Str("text", rec.Text)
	}
	ev.Msg("Frame analysed")
}

// dedupCache remembers which gateways heard a frame within a short window
type dedupCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	items  map[string]*dedupEntry
	pruned time.Time
}

type dedupEntry struct {
	expires  time.Time
	gateways map[string]struct{}
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{ttl: ttl, items: make(map[string]*dedupEntry)}
}

// checkAndSet reports whether key was already heard within the window by
// another gateway. A second copy from a gateway that already reported key
// starts a new window.
func (c *dedupCache) checkAndSet(key, gatewayID string, now time.Time) bool {
	if now.IsZero() {
		now = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.pruned) > c.ttl {
		for k, e := range c.items {
			if now.After(e.expires) {
				delete(c.items, k)
			}
		}
		c.pruned = now
	}

	if e, ok := c.items[key]; ok && !now.After(e.expires) {
		if _, heard := e.gateways[gatewayID]; !heard {
			e.gateways[gatewayID] = struct{}{}
			return true
		}
	}
	c.items[key] = &dedupEntry{
		expires:  now.Add(c.ttl),
		gateways: map[string]struct{}{gatewayID: {}},
	}
	return false
}
