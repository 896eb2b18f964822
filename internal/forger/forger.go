package forger

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/metrics"
	"github.com/lorawan-server/lorawan-tester/internal/models"
	"github.com/lorawan-server/lorawan-tester/internal/session"
	"github.com/lorawan-server/lorawan-tester/pkg/crypto"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

// Kind is a forgeable frame kind
type Kind string

const (
	KindJoinRequest Kind = "join-request"
	KindJoinAccept  Kind = "join-accept"
	KindACK         Kind = "ack"
	KindJam         Kind = "jam"
)

// Kinds lists the forgeable kinds
func Kinds() []Kind {
	return []Kind{KindJoinRequest, KindJoinAccept, KindACK, KindJam}
}

// Values used when the session does not hold a field
const (
	PlaceholderJoinEUI  = "0000000000000000"
	PlaceholderDevEUI   = "3333333333333333"
	PlaceholderDevNonce = "1237"
	PlaceholderAppNonce = "000001"
	PlaceholderNetID    = "000000"
	PlaceholderDevAddr  = "99998888"
	PlaceholderFCnt     = 11
	PlaceholderRxDelay  = 1
	PlaceholderJam      = "48656c6cffff776f726c64"
)

// Placeholder records a field that was filled with a placeholder value
type Placeholder struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Result is a forged frame ready for transmission
type Result struct {
	Kind         Kind            `json:"kind"`
	Session      string          `json:"session,omitempty"`
	Frame        models.HexBytes `json:"frame"`
	MIC          string          `json:"mic,omitempty"`
	KeyUsed      string          `json:"keyUsed,omitempty"`
	Placeholders []Placeholder   `json:"placeholders,omitempty"`
	Generated    []Placeholder   `json:"generated,omitempty"` // freshly drawn values
}

// Options tune a forged frame. Zero values select the session value or
// the placeholder.
type Options struct {
	FCnt       *uint32
	Confirmed  bool
	RxDelay    *uint8
	CFList     []byte
	JamPayload []byte
	// RandomDevNonce draws a fresh DevNonce for a Join Request instead of
	// the stored one, so a network server does not reject it as a replay
	RandomDevNonce bool
}

// Forger builds frames from the current session
type Forger struct {
	sessions *session.Manager
	metrics  *metrics.Metrics
}

// New creates a forger. m may be nil.
func New(sessions *session.Manager, m *metrics.Metrics) *Forger {
	return &Forger{sessions: sessions, metrics: m}
}

// Forge dispatches on kind
func (f *Forger) Forge(ctx context.Context, kind Kind, opts Options) (*Result, error) {
	switch kind {
	case KindJoinRequest:
		return f.JoinRequest(ctx, opts)
	case KindJoinAccept:
		return f.JoinAccept(ctx, opts)
	case KindACK:
		return f.ACK(ctx, opts)
	case KindJam:
		return f.Jam(ctx, opts.JamPayload)
	}
	return nil, fmt.Errorf("unknown frame kind %q", kind)
}

// builder collects the placeholders used for one frame
type builder struct {
	rec          *session.Record
	placeholders []Placeholder
	generated    []Placeholder
}

func (b *builder) placeholder(p session.Param, value string) {
	b.placeholders = append(b.placeholders, Placeholder{Field: p.String(), Value: value})
}

func (f *Forger) current(ctx context.Context) (string, *builder, error) {
	h, err := f.sessions.WithCurrent(ctx)
	if err != nil {
		return "", nil, err
	}
	rec, err := h.Record(ctx)
	if err != nil {
		return "", nil, err
	}
	return h.Name(), &builder{rec: rec}, nil
}

func missingKey(p session.Param) error {
	return &lorawan.Error{Err: lorawan.ErrMissingKey, Field: p.String()}
}

// JoinRequest forges a Join Request signed with the root key
func (f *Forger) JoinRequest(ctx context.Context, opts Options) (*Result, error) {
	name, b, err := f.current(ctx)
	if err != nil {
		return nil, err
	}
	key, keyParam, ok := b.rec.RootKey()
	if !ok {
		return nil, missingKey(session.AppKey)
	}

	jr := &lorawan.JoinRequestPayload{}
	if b.rec.JoinEUI != nil {
		jr.JoinEUI = *b.rec.JoinEUI
	} else {
		jr.JoinEUI, _ = lorawan.ParseEUI64(PlaceholderJoinEUI)
		b.placeholder(session.JoinRequestJoinEUI, PlaceholderJoinEUI)
	}
	if b.rec.DevEUI != nil {
		jr.DevEUI = *b.rec.DevEUI
	} else {
		jr.DevEUI, _ = lorawan.ParseEUI64(PlaceholderDevEUI)
		b.placeholder(session.JoinRequestDevEUI, PlaceholderDevEUI)
	}
	switch {
	case opts.RandomDevNonce:
		s, err := crypto.GenerateRandomHex(2)
		if err != nil {
			return nil, fmt.Errorf("random dev nonce: %w", err)
		}
		if jr.DevNonce, err = lorawan.ParseDevNonce(s); err != nil {
			return nil, err
		}
		b.generated = append(b.generated, Placeholder{Field: session.JoinRequestDevNonce.String(), Value: s})
	case b.rec.DevNonce != nil:
		jr.DevNonce = *b.rec.DevNonce
	default:
		jr.DevNonce, _ = lorawan.ParseDevNonce(PlaceholderDevNonce)
		b.placeholder(session.JoinRequestDevNonce, PlaceholderDevNonce)
	}

	p := &lorawan.PHYPayload{
		MHDR:    lorawan.MHDR{MType: lorawan.JoinRequest, Major: lorawan.LoRaWANR1},
		Payload: jr,
	}
	if err := p.SetJoinMIC(key); err != nil {
		return nil, fmt.Errorf("join request MIC: %w", err)
	}
	frame, err := p.MarshalBinary(nil)
	if err != nil {
		return nil, err
	}

	return f.done(name, KindJoinRequest, frame, p.MIC.String(), keyParam.String(), b), nil
}

// JoinAccept forges a Join Accept, signed and encrypted with the root key
func (f *Forger) JoinAccept(ctx context.Context, opts Options) (*Result, error) {
	name, b, err := f.current(ctx)
	if err != nil {
		return nil, err
	}
	key, keyParam, ok := b.rec.RootKey()
	if !ok {
		return nil, missingKey(session.AppKey)
	}

	ja := &lorawan.JoinAcceptPayload{Decrypted: true, CFList: opts.CFList}
	if b.rec.AppNonce != nil {
		ja.AppNonce = *b.rec.AppNonce
	} else {
		ja.AppNonce, _ = lorawan.ParseJoinNonce(PlaceholderAppNonce)
		b.placeholder(session.JoinAcceptAppNonce, PlaceholderAppNonce)
	}
	if b.rec.NetID != nil {
		ja.NetID = *b.rec.NetID
	} else {
		ja.NetID, _ = lorawan.ParseNetID(PlaceholderNetID)
		b.placeholder(session.JoinAcceptNetID, PlaceholderNetID)
	}
	if b.rec.DevAddr != nil {
		ja.DevAddr = *b.rec.DevAddr
	} else {
		ja.DevAddr, _ = lorawan.ParseDevAddr(PlaceholderDevAddr)
		b.placeholder(session.JoinAcceptDevAddr, PlaceholderDevAddr)
	}
	ja.RxDelay = PlaceholderRxDelay
	if opts.RxDelay != nil {
		ja.RxDelay = *opts.RxDelay
	}

	p := &lorawan.PHYPayload{
		MHDR:    lorawan.MHDR{MType: lorawan.JoinAccept, Major: lorawan.LoRaWANR1},
		Payload: ja,
	}
	if err := p.SetJoinMIC(key); err != nil {
		return nil, fmt.Errorf("join accept MIC: %w", err)
	}
	frame, err := p.MarshalBinary(&key)
	if err != nil {
		return nil, err
	}

	return f.done(name, KindJoinAccept, frame, p.MIC.String(), keyParam.String(), b), nil
}

// ACK forges a downlink data frame with the ACK bit set and no payload
func (f *Forger) ACK(ctx context.Context, opts Options) (*Result, error) {
	name, b, err := f.current(ctx)
	if err != nil {
		return nil, err
	}

	var key lorawan.AES128Key
	keyParam := session.NwkSKey
	switch {
	case b.rec.NwkSKey != nil:
		key = *b.rec.NwkSKey
	case b.rec.SNwkSIntKey != nil:
		key, keyParam = *b.rec.SNwkSIntKey, session.SNwkSIntKey
	default:
		return nil, missingKey(session.NwkSKey)
	}

	fhdr := lorawan.FHDR{FCtrl: lorawan.FCtrl{ACK: true}}
	if b.rec.DevAddr != nil {
		fhdr.DevAddr = *b.rec.DevAddr
	} else {
		fhdr.DevAddr, _ = lorawan.ParseDevAddr(PlaceholderDevAddr)
		b.placeholder(session.JoinAcceptDevAddr, PlaceholderDevAddr)
	}

	fCnt := uint32(PlaceholderFCnt)
	if opts.FCnt != nil {
		fCnt = *opts.FCnt
	} else {
		b.placeholders = append(b.placeholders, Placeholder{Field: "FCnt", Value: fmt.Sprint(PlaceholderFCnt)})
	}
	fhdr.FCnt = uint16(fCnt)

	mtype := lorawan.UnconfirmedDataDown
	if opts.Confirmed {
		mtype = lorawan.ConfirmedDataDown
	}
	p := &lorawan.PHYPayload{
		MHDR:    lorawan.MHDR{MType: mtype, Major: lorawan.LoRaWANR1},
		Payload: &lorawan.MACPayload{FHDR: fhdr},
	}
	if err := p.SetDataMIC(key, uint16(fCnt>>16)); err != nil {
		return nil, fmt.Errorf("ack MIC: %w", err)
	}
	frame, err := p.MarshalBinary(nil)
	if err != nil {
		return nil, err
	}

	return f.done(name, KindACK, frame, p.MIC.String(), keyParam.String(), b), nil
}

// Jam returns payload unchanged for raw transmission; an empty payload
// selects the placeholder pattern. No session or key is needed.
func (f *Forger) Jam(ctx context.Context, payload []byte) (*Result, error) {
	b := &builder{}
	if len(payload) == 0 {
		payload, _ = hex.DecodeString(PlaceholderJam)
		b.placeholders = append(b.placeholders, Placeholder{Field: "Payload", Value: PlaceholderJam})
	}

	name, _ := f.sessions.Current(ctx)
	return f.done(name, KindJam, append([]byte(nil), payload...), "", "", b), nil
}

func (f *Forger) done(name string, kind Kind, frame []byte, mic, keyUsed string, b *builder) *Result {
	res := &Result{
		Kind:         kind,
		Session:      name,
		Frame:        frame,
		MIC:          mic,
		KeyUsed:      keyUsed,
		Placeholders: b.placeholders,
		Generated:    b.generated,
	}

	if f.metrics != nil {
		f.metrics.FramesForged.WithLabelValues(string(kind)).Inc()
	}

	ev := log.Info()
	if len(res.Placeholders) > 0 {
		ev = log.Warn().Interface("placeholders", res.Placeholders)
	}
	if len(res.Generated) > 0 {
		ev = ev.Interface("generated", res.Generated)
	}
	ev.Str("session", name).
		Str("kind", string(kind)).
		Str("frame", hex.EncodeToString(frame)).
		Str("mic", mic).
		Msg("Frame forged")
	return res
}
