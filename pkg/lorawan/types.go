package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Identifiers are kept in display order (most significant byte first).
// The wire format is little-endian, see the MarshalBinary methods.

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalText implements encoding.TextMarshaler
func (e EUI64) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *EUI64) UnmarshalText(text []byte) error {
	return decodeHexField("EUI64", string(text), e[:])
}

// MarshalBinary returns the wire (little-endian) representation
func (e EUI64) MarshalBinary() ([]byte, error) {
	return reversed(e[:]), nil
}

// UnmarshalBinary decodes the wire representation
func (e *EUI64) UnmarshalBinary(data []byte) error {
	if len(data) != len(e) {
		return fmt.Errorf("EUI64: expected %d bytes, got %d", len(e), len(data))
	}
	copy(e[:], reversed(data))
	return nil
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler
func (d DevAddr) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *DevAddr) UnmarshalText(text []byte) error {
	return decodeHexField("DevAddr", string(text), d[:])
}

// MarshalBinary returns the wire representation
func (d DevAddr) MarshalBinary() ([]byte, error) {
	return reversed(d[:]), nil
}

// UnmarshalBinary decodes the wire representation
func (d *DevAddr) UnmarshalBinary(data []byte) error {
	if len(data) != len(d) {
		return fmt.Errorf("DevAddr: expected %d bytes, got %d", len(d), len(data))
	}
	copy(d[:], reversed(data))
	return nil
}

// NetID represents the 3-byte network identifier
type NetID [3]byte

// String returns hex string representation
func (n NetID) String() string {
	return hex.EncodeToString(n[:])
}

// MarshalText implements encoding.TextMarshaler
func (n NetID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (n *NetID) UnmarshalText(text []byte) error {
	return decodeHexField("NetID", string(text), n[:])
}

// JoinNonce is the 3-byte server nonce (AppNonce in LoRaWAN 1.0)
type JoinNonce [3]byte

// String returns hex string representation
func (n JoinNonce) String() string {
	return hex.EncodeToString(n[:])
}

// MarshalText implements encoding.TextMarshaler
func (n JoinNonce) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (n *JoinNonce) UnmarshalText(text []byte) error {
	return decodeHexField("JoinNonce", string(text), n[:])
}

// DevNonce is the 2-byte device nonce
type DevNonce uint16

// String returns hex string representation
func (n DevNonce) String() string {
	return fmt.Sprintf("%04x", uint16(n))
}

// MarshalText implements encoding.TextMarshaler
func (n DevNonce) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (n *DevNonce) UnmarshalText(text []byte) error {
	var b [2]byte
	if err := decodeHexField("DevNonce", string(text), b[:]); err != nil {
		return err
	}
	*n = DevNonce(uint16(b[0])<<8 | uint16(b[1]))
	return nil
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler
func (k AES128Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *AES128Key) UnmarshalText(text []byte) error {
	return decodeHexField("AES128Key", string(text), k[:])
}

// MIC is the 4-byte message integrity code
type MIC [4]byte

// String returns hex string representation
func (m MIC) String() string {
	return hex.EncodeToString(m[:])
}

// MarshalJSON encodes the MIC as hex
func (m MIC) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// ParseEUI64 parses a 16-character hex EUI
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	err := e.UnmarshalText([]byte(s))
	return e, err
}

// ParseDevAddr parses an 8-character hex device address
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr
	err := d.UnmarshalText([]byte(s))
	return d, err
}

// ParseNetID parses a 6-character hex NetID
func ParseNetID(s string) (NetID, error) {
	var n NetID
	err := n.UnmarshalText([]byte(s))
	return n, err
}

// ParseJoinNonce parses a 6-character hex AppNonce/JoinNonce
func ParseJoinNonce(s string) (JoinNonce, error) {
	var n JoinNonce
	err := n.UnmarshalText([]byte(s))
	return n, err
}

// ParseDevNonce parses a 4-character hex DevNonce
func ParseDevNonce(s string) (DevNonce, error) {
	var n DevNonce
	err := n.UnmarshalText([]byte(s))
	return n, err
}

// ParseAES128Key parses a 32-character hex key
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key
	err := k.UnmarshalText([]byte(s))
	return k, err
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RejoinRequest
	Proprietary
)

var mtypeNames = [...]string{
	"JoinRequest",
	"JoinAccept",
	"UnconfirmedDataUp",
	"UnconfirmedDataDown",
	"ConfirmedDataUp",
	"ConfirmedDataDown",
	"RejoinRequest",
	"Proprietary",
}

func (m MType) String() string {
	if int(m) < len(mtypeNames) {
		return mtypeNames[m]
	}
	return fmt.Sprintf("MType(%d)", byte(m))
}

// IsData reports whether the message type carries a MACPayload
func (m MType) IsData() bool {
	switch m {
	case UnconfirmedDataUp, UnconfirmedDataDown, ConfirmedDataUp, ConfirmedDataDown:
		return true
	}
	return false
}

// Direction returns the link direction of a data message type
func (m MType) Direction() Direction {
	switch m {
	case UnconfirmedDataDown, ConfirmedDataDown, JoinAccept:
		return Downlink
	}
	return Uplink
}

// Direction is the link direction used in the A and B0 blocks
type Direction byte

const (
	Uplink   Direction = 0
	Downlink Direction = 1
)

func (d Direction) String() string {
	if d == Downlink {
		return "downlink"
	}
	return "uplink"
}

// Major represents the LoRaWAN major version
type Major byte

const (
	LoRaWANR1 Major = 0
)

// MHDR represents the MAC header
type MHDR struct {
	MType MType
	Major Major
}

// MarshalBinary packs the MHDR byte
func (h MHDR) MarshalBinary() ([]byte, error) {
	return []byte{byte(h.MType)<<5 | byte(h.Major)&0x03}, nil
}

// UnmarshalBinary unpacks the MHDR byte
func (h *MHDR) UnmarshalBinary(data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("MHDR: expected 1 byte, got %d", len(data))
	}
	h.MType = MType(data[0] >> 5)
	h.Major = Major(data[0] & 0x03)
	return nil
}

func decodeHexField(name, s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != hex.EncodedLen(len(dst)) {
		return &Error{Err: ErrInvalidWidth, Field: name,
			Detail: fmt.Sprintf("expected %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))}
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return &Error{Err: ErrInvalidWidth, Field: name, Detail: err.Error()}
	}
	return nil
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
