package models

import (
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// HexBytes is a byte slice rendered as lowercase hex in JSON
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler
func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *HexBytes) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*h = b
	return nil
}

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// RXInfo represents receive information
type RXInfo struct {
	GatewayID string    `json:"gatewayID,omitempty"`
	Frequency float64   `json:"freq,omitempty"` // MHz
	DataRate  string    `json:"datr,omitempty"`
	RSSI      int       `json:"rssi"`
	LoRaSNR   float64   `json:"loRaSNR"`
	Channel   int       `json:"chan"`
	RFChain   int       `json:"rfch"`
	Time      time.Time `json:"time,omitempty"`
}

// CapturedFrame is one PHY payload as delivered by a capture source
type CapturedFrame struct {
	PHYPayload []byte
	ReceivedAt time.Time
	Source     string
	RXInfo     *RXInfo
}

// Frame results
const (
	ResultOK                  = "ok"
	ResultMICMismatch         = "mic_mismatch"
	ResultDecryptUnavailable  = "decrypt_unavailable"
	ResultForeign             = "foreign"
	ResultIncompleteHandshake = "incomplete_handshake"
	ResultDecodeError         = "decode_error"
	ResultError               = "error"
)

// FrameRecord is the analysed view of one captured frame
type FrameRecord struct {
	ID          uuid.UUID `json:"id"`
	Session     string    `json:"session,omitempty"`
	Source      string    `json:"source,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt"`
	ProcessedAt time.Time `json:"processedAt"`
	RXInfo      *RXInfo   `json:"rxInfo,omitempty"`

	PHYPayload HexBytes `json:"phyPayload"`
	MType      string   `json:"mType,omitempty"`
	MIC        string   `json:"mic,omitempty"`
	MICValid   *bool    `json:"micValid,omitempty"`

	// Join frames
	DevEUI   string `json:"devEUI,omitempty"`
	JoinEUI  string `json:"joinEUI,omitempty"`
	DevNonce string `json:"devNonce,omitempty"`
	AppNonce string `json:"appNonce,omitempty"`
	NetID    string `json:"netID,omitempty"`

	// Data frames
	DevAddr     string   `json:"devAddr,omitempty"`
	FCnt        *uint32  `json:"fCnt,omitempty"`
	FPort       *uint8   `json:"fPort,omitempty"`
	ACK         bool     `json:"ack,omitempty"`
	FOpts       HexBytes `json:"fOpts,omitempty"`
	MACCommands []string `json:"macCommands,omitempty"`
	FRMPayload  HexBytes `json:"frmPayload,omitempty"`
	Plaintext   HexBytes `json:"plaintext,omitempty"`
	Text        string   `json:"text,omitempty"`

	State  string   `json:"state"`
	Result string   `json:"result"`
	Notes  []string `json:"notes,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// NewFrameRecord starts a record for a captured frame
func NewFrameRecord(f CapturedFrame) *FrameRecord {
	received := f.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	return &FrameRecord{
		ID:         uuid.New(),
		Source:     f.Source,
		ReceivedAt: received,
		RXInfo:     f.RXInfo,
		PHYPayload: append(HexBytes(nil), f.PHYPayload...),
		Result:     ResultOK,
	}
}

// Note appends a human readable remark
func (r *FrameRecord) Note(s string) {
	r.Notes = append(r.Notes, s)
}

// Printable renders b as text, replacing bytes that are not printable
// ASCII with '.'. Valid UTF-8 is returned unchanged.
func Printable(b []byte) string {
	if utf8.Valid(b) {
		printable := true
		for _, r := range string(b) {
			if r < 0x20 && r != '\n' && r != '\t' || r == 0x7f {
				printable = false
				break
			}
		}
		if printable {
			return string(b)
		}
	}

	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
