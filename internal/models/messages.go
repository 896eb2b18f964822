package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TXInfo holds the radio parameters of a transmission
type TXInfo struct {
	Frequency       float64 `json:"freq" yaml:"frequency"` // MHz
	Bandwidth       int     `json:"bw" yaml:"bandwidth"`   // kHz
	SpreadingFactor int     `json:"sf" yaml:"spreading_factor"`
	CodingRate      string  `json:"codr" yaml:"coding_rate"`
	Power           int     `json:"powe" yaml:"power"`
	GainDB          float64 `json:"gain_db,omitempty" yaml:"gain_db"`
	SampleRate      float64 `json:"sample_rate,omitempty" yaml:"sample_rate"`
	InvertPolarity  bool    `json:"ipol" yaml:"invert_polarity"`
}

// DataRate returns the Semtech datr string, e.g. SF7BW125
func (t TXInfo) DataRate() string {
	return fmt.Sprintf("SF%dBW%d", t.SpreadingFactor, t.Bandwidth)
}

// DownlinkMessage is a frame handed to a gateway for transmission
type DownlinkMessage struct {
	ID         uuid.UUID `json:"id"`
	PHYPayload HexBytes  `json:"phyPayload"`
	TXInfo     TXInfo    `json:"txInfo"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewDownlinkMessage wraps a frame for transmission
func NewDownlinkMessage(frame []byte, tx TXInfo) DownlinkMessage {
	return DownlinkMessage{
		ID:         uuid.New(),
		PHYPayload: append(HexBytes(nil), frame...),
		TXInfo:     tx,
		CreatedAt:  time.Now(),
	}
}
