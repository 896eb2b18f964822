package analyzer

import (
	"errors"
	"fmt"

	"github.com/lorawan-server/lorawan-tester/internal/session"
)

// State is the handshake progress of the current session
type State int

const (
	Empty State = iota
	HandshakeObserved
	KeysDerivable
	SessionEstablished
	DataExchange
)

var stateNames = [...]string{"Empty", "HandshakeObserved", "KeysDerivable", "SessionEstablished", "DataExchange"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Frame level errors. The frame is still reported.
var (
	ErrMICMismatch         = errors.New("MIC mismatch")
	ErrIncompleteHandshake = errors.New("join accept without a prior join request")
)

// stateOf infers the state from what a stored record holds
func stateOf(rec *session.Record) State {
	switch {
	case rec.HasDerivedKeys():
		return SessionEstablished
	case rec.DevEUI != nil && rec.DevNonce != nil && rec.AppNonce != nil && rec.NetID != nil:
		return KeysDerivable
	case rec.DevEUI != nil && rec.DevNonce != nil:
		return HandshakeObserved
	}
	return Empty
}
