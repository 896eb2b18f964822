package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/metrics"
	"github.com/lorawan-server/lorawan-tester/internal/models"
	"github.com/lorawan-server/lorawan-tester/internal/session"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

const defaultHistory = 100

// Analyzer follows the join handshake of the current session and decrypts
// the data frames that come after it. Frames are analysed one at a time.
type Analyzer struct {
	sessions *session.Manager
	metrics  *metrics.Metrics

	mu                 sync.Mutex
	sessionName        string
	state              State
	incompleteReported bool
	fCnt               [2]uint32 // last full counter per direction

	historySize int
	history     []*models.FrameRecord
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithMetrics records frame counters in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// WithHistory keeps the last n frame records for Recent
func WithHistory(n int) Option {
	return func(a *Analyzer) {
		a.historySize = n
	}
}

// New creates an analyzer working on the current session of sessions
func New(sessions *session.Manager, opts ...Option) *Analyzer {
	a := &Analyzer{
		sessions:    sessions,
		historySize: defaultHistory,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current state
func (a *Analyzer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Sync recomputes the state from the stored record of the current session.
// Call it after the record was edited outside the analyzer.
func (a *Analyzer) Sync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, err := a.sessions.WithCurrent(ctx)
	if err != nil {
		return err
	}
	rec, err := h.Record(ctx)
	if err != nil {
		return err
	}
	a.resetLocked(h.Name(), stateOf(rec))
	return nil
}

func (a *Analyzer) resetLocked(name string, st State) {
	a.sessionName = name
	a.incompleteReported = false
	a.fCnt = [2]uint32{}
	a.setState(st)
}

func (a *Analyzer) setState(st State) {
	if st != a.state {
		log.Debug().
			Str("session", a.sessionName).
			Str("from", a.state.String()).
			Str("to", st.String()).
			Msg("Analyzer state changed")
	}
	a.state = st
	if a.metrics != nil {
		a.metrics.AnalyzerState.Set(float64(st))
	}
}

// Recent returns up to n of the most recent frame records, newest last
func (a *Analyzer) Recent(n int) []*models.FrameRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 || n > len(a.history) {
		n = len(a.history)
	}
	out := make([]*models.FrameRecord, n)
	copy(out, a.history[len(a.history)-n:])
	return out
}

// Analyze processes one captured frame. The returned record is non-nil
// whenever the frame reached the decoder; a non-nil error reports a
// decode failure or a frame level problem such as ErrMICMismatch.
func (a *Analyzer) Analyze(ctx context.Context, f models.CapturedFrame) (*models.FrameRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := models.NewFrameRecord(f)
	err := a.analyze(ctx, out)

	out.ProcessedAt = time.Now()
	out.State = a.state.String()
	if err != nil {
		out.Error = err.Error()
		if out.Result == models.ResultOK {
			out.Result = models.ResultError
		}
	}

	if a.metrics != nil {
		mtype := out.MType
		if mtype == "" {
			mtype = "unknown"
		}
		a.metrics.FramesProcessed.WithLabelValues(mtype, out.Result).Inc()
	}

	if a.historySize > 0 {
		a.history = append(a.history, out)
		if len(a.history) > a.historySize {
			a.history = a.history[len(a.history)-a.historySize:]
		}
	}

	return out, err
}

func (a *Analyzer) analyze(ctx context.Context, out *models.FrameRecord) error {
	h, err := a.sessions.WithCurrent(ctx)
	if err != nil {
		return err
	}
	out.Session = h.Name()

	rec, err := h.Record(ctx)
	if err != nil {
		return err
	}
	if h.Name() != a.sessionName {
		a.resetLocked(h.Name(), stateOf(rec))
	}

	roots := rootKeys(rec)
	var rootKey *lorawan.AES128Key
	if len(roots) > 0 {
		rootKey = &roots[0]
	}

	p, err := lorawan.Decode(out.PHYPayload, rootKey)
	if err != nil {
		out.Result = models.ResultDecodeError
		return fmt.Errorf("decode: %w", err)
	}
	out.MType = p.MHDR.MType.String()
	out.MIC = p.MIC.String()

	switch mt := p.MHDR.MType; {
	case mt == lorawan.JoinRequest:
		return a.joinRequest(ctx, h, p, roots, out)
	case mt == lorawan.JoinAccept:
		return a.joinAccept(ctx, h, p, roots, out)
	case mt.IsData():
		return a.data(p, rec, out)
	}

	out.Note("opaque payload, not analysed")
	return nil
}

// rootKeys lists AppKey then NwkKey, skipping unset and duplicate keys
func rootKeys(rec *session.Record) []lorawan.AES128Key {
	var keys []lorawan.AES128Key
	if rec.AppKey != nil {
		keys = append(keys, *rec.AppKey)
	}
	if rec.NwkKey != nil && (rec.AppKey == nil || *rec.NwkKey != *rec.AppKey) {
		keys = append(keys, *rec.NwkKey)
	}
	return keys
}

func (a *Analyzer) joinRequest(ctx context.Context, h *session.Handle, p *lorawan.PHYPayload, roots []lorawan.AES128Key, out *models.FrameRecord) error {
	jr := p.JoinRequest()
	out.DevEUI = jr.DevEUI.String()
	out.JoinEUI = jr.JoinEUI.String()
	out.DevNonce = jr.DevNonce.String()

	if len(roots) > 0 {
		valid := false
		for _, k := range roots {
			if ok, err := p.ValidateJoinMIC(k); err == nil && ok {
				valid = true
				break
			}
		}
		out.MICValid = &valid
		if !valid {
			out.Note("join request MIC does not match the session root key")
		}
	}

	err := h.Update(ctx, func(r *session.Record) error {
		devEUI, joinEUI, devNonce := jr.DevEUI, jr.JoinEUI, jr.DevNonce
		r.DevEUI = &devEUI
		r.JoinEUI = &joinEUI
		r.DevNonce = &devNonce
		r.ClearJoinAccept()
		r.ClearDerivedKeys()
		return nil
	})
	if err != nil {
		return err
	}

	a.incompleteReported = false
	a.fCnt = [2]uint32{}
	a.setState(HandshakeObserved)

	log.Info().
		Str("session", h.Name()).
		Str("devEUI", out.DevEUI).
		Str("joinEUI", out.JoinEUI).
		Str("devNonce", out.DevNonce).
		Msg("Join request observed")
	return nil
}

func (a *Analyzer) joinAccept(ctx context.Context, h *session.Handle, p *lorawan.PHYPayload, roots []lorawan.AES128Key, out *models.FrameRecord) error {
	ja := p.JoinAccept()
	if !ja.Decrypted {
		out.Result = models.ResultDecryptUnavailable
		out.MIC = ""
		out.Note("no AppKey or NwkKey in session, join accept left encrypted")
		return &lorawan.Error{Err: lorawan.ErrDecryptUnavailable, Field: "AppKey"}
	}

	valid, err := p.ValidateJoinMIC(roots[0])
	if err != nil {
		return err
	}
	if !valid && len(roots) > 1 {
		// AppKey did not verify, try NwkKey
		if alt, err := lorawan.Decode(out.PHYPayload, &roots[1]); err == nil {
			if ok, _ := alt.ValidateJoinMIC(roots[1]); ok {
				p, ja, valid = alt, alt.JoinAccept(), true
			}
		}
	}
	out.MICValid = &valid
	out.MIC = p.MIC.String()

	if !valid {
		out.Result = models.ResultMICMismatch
		out.Note("join accept MIC does not verify with the session root key")
		return ErrMICMismatch
	}

	out.AppNonce = ja.AppNonce.String()
	out.NetID = ja.NetID.String()
	out.DevAddr = ja.DevAddr.String()

	incomplete := false
	err = h.Update(ctx, func(r *session.Record) error {
		appNonce, netID, devAddr := ja.AppNonce, ja.NetID, ja.DevAddr
		r.AppNonce = &appNonce
		r.NetID = &netID
		r.DevAddr = &devAddr
		r.ClearDerivedKeys()

		if r.DevEUI == nil || r.DevNonce == nil {
			incomplete = true
			return nil
		}

		a.setState(KeysDerivable)

		appKey, _, _ := r.RootKey()
		nwkKey, _ := r.NwkRootKey()
		var joinEUI lorawan.EUI64
		if r.JoinEUI != nil {
			joinEUI = *r.JoinEUI
		}

		ks, err := lorawan.DeriveSessionKeys(appKey, nwkKey, joinEUI, appNonce, netID, *r.DevNonce)
		if err != nil {
			return fmt.Errorf("derive session keys: %w", err)
		}
		r.SetDerivedKeys(ks)
		return nil
	})
	if err != nil {
		return err
	}

	if incomplete {
		out.Result = models.ResultIncompleteHandshake
		out.Note("no join request seen for this join accept, session keys not derived")
		if a.incompleteReported {
			return nil
		}
		a.incompleteReported = true
		log.Warn().
			Str("session", h.Name()).
			Str("devAddr", out.DevAddr).
			Msg("Join accept without join request")
		return ErrIncompleteHandshake
	}

	a.fCnt = [2]uint32{}
	a.setState(SessionEstablished)
	if a.metrics != nil {
		a.metrics.KeyDerivations.Inc()
	}

	log.Info().
		Str("session", h.Name()).
		Str("devAddr", out.DevAddr).
		Str("appNonce", out.AppNonce).
		Str("netID", out.NetID).
		Msg("Session keys derived")
	return nil
}

func (a *Analyzer) data(p *lorawan.PHYPayload, rec *session.Record, out *models.FrameRecord) error {
	mac := p.MACPayload()
	dir := p.MHDR.MType.Direction()

	out.DevAddr = mac.FHDR.DevAddr.String()
	out.FPort = mac.FPort
	out.ACK = mac.FHDR.FCtrl.ACK
	out.FOpts = mac.FHDR.FOpts
	out.FRMPayload = mac.FRMPayload

	fCnt := lorawan.FullFCnt(a.fCnt[dir], mac.FHDR.FCnt)
	out.FCnt = &fCnt

	if len(mac.FHDR.FOpts) > 0 {
		a.macCommands(dir, mac.FHDR.FOpts, out)
	}

	if rec.DevAddr != nil && *rec.DevAddr != mac.FHDR.DevAddr {
		out.Result = models.ResultForeign
		out.Note(fmt.Sprintf("DevAddr %s does not belong to the session (%s)", mac.FHDR.DevAddr, rec.DevAddr))
		return nil
	}
	a.fCnt[dir] = fCnt

	if rec.NwkSKey != nil {
		valid, err := p.ValidateDataMIC(*rec.NwkSKey, uint16(fCnt>>16))
		if err != nil {
			return err
		}
		out.MICValid = &valid
		if !valid {
			out.Result = models.ResultMICMismatch
			out.Note("data MIC does not verify with NwkSKey")
		}
	}

	if mac.FPort != nil && len(mac.FRMPayload) > 0 {
		param, key := session.AppSKey, rec.AppSKey
		if *mac.FPort == 0 {
			param, key = session.NwkSKey, rec.NwkSKey
			if key == nil {
				param, key = session.NwkSEncKey, rec.NwkSEncKey
			}
		}

		if key == nil {
			if out.Result == models.ResultOK {
				out.Result = models.ResultDecryptUnavailable
			}
			out.Note(param.String() + " not set, payload left encrypted")
		} else {
			plain, err := mac.DecryptFRMPayload(*key, dir, uint16(fCnt>>16))
			if err != nil {
				return err
			}
			out.Plaintext = plain
			out.Text = models.Printable(plain)
			if a.metrics != nil {
				a.metrics.PayloadsDecrypted.WithLabelValues(param.String()).Inc()
			}
			if *mac.FPort == 0 {
				a.macCommands(dir, plain, out)
			}
		}
	}

	if a.state == SessionEstablished {
		a.setState(DataExchange)
	}
	return nil
}

func (a *Analyzer) macCommands(dir lorawan.Direction, data []byte, out *models.FrameRecord) {
	cmds, err := lorawan.ParseMACCommands(dir, data)
	for _, c := range cmds {
		out.MACCommands = append(out.MACCommands, c.String())
	}
	if err != nil {
		out.Note("MAC commands: " + err.Error())
	}
}
