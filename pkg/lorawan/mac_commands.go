package lorawan

import (
	"encoding/hex"
	"fmt"
)

// CID is a MAC command identifier. Requests and answers share the CID and
// are told apart by direction.
type CID byte

// MAC command identifiers (LoRaWAN 1.0.x)
const (
	LinkCheck     CID = 0x02
	LinkADR       CID = 0x03
	DutyCycle     CID = 0x04
	RXParamSetup  CID = 0x05
	DevStatus     CID = 0x06
	NewChannel    CID = 0x07
	RXTimingSetup CID = 0x08
	TxParamSetup  CID = 0x09
	DlChannel     CID = 0x0A
	DeviceTime    CID = 0x0D
)

type macCommandDef struct {
	name    string
	upLen   int // payload length sent by the device
	downLen int // payload length sent by the network
	upReq   bool
}

var macCommandDefs = map[CID]macCommandDef{
	LinkCheck:     {"LinkCheck", 0, 2, true},
	LinkADR:       {"LinkADR", 1, 4, false},
	DutyCycle:     {"DutyCycle", 0, 1, false},
	RXParamSetup:  {"RXParamSetup", 1, 4, false},
	DevStatus:     {"DevStatus", 2, 0, false},
	NewChannel:    {"NewChannel", 1, 5, false},
	RXTimingSetup: {"RXTimingSetup", 0, 1, false},
	TxParamSetup:  {"TxParamSetup", 0, 1, false},
	DlChannel:     {"DlChannel", 1, 4, false},
	DeviceTime:    {"DeviceTime", 0, 5, true},
}

// MACCommand represents a MAC command
type MACCommand struct {
	Direction Direction
	CID       CID
	Payload   []byte
}

// Name returns e.g. LinkADRReq or DevStatusAns
func (c MACCommand) Name() string {
	def, ok := macCommandDefs[c.CID]
	if !ok {
		return fmt.Sprintf("CID(0x%02x)", byte(c.CID))
	}
	// device-initiated commands are requests uplink, answers downlink
	req := c.Direction == Downlink
	if def.upReq {
		req = c.Direction == Uplink
	}
	if req {
		return def.name + "Req"
	}
	return def.name + "Ans"
}

func (c MACCommand) String() string {
	if len(c.Payload) == 0 {
		return c.Name()
	}
	return c.Name() + "(" + hex.EncodeToString(c.Payload) + ")"
}

// ParseMACCommands parses MAC commands from FOpts or a port 0 FRMPayload
func ParseMACCommands(dir Direction, data []byte) ([]MACCommand, error) {
	var commands []MACCommand

	for i := 0; i < len(data); {
		cid := CID(data[i])
		i++

		def, ok := macCommandDefs[cid]
		if !ok {
			return commands, &Error{Err: ErrMalformedFrame, Field: "MACCommand", Detail: fmt.Sprintf("unknown CID 0x%02x", byte(cid))}
		}

		n := def.downLen
		if dir == Uplink {
			n = def.upLen
		}
		if i+n > len(data) {
			return commands, truncated("MACCommand."+def.name, n, len(data)-i)
		}

		commands = append(commands, MACCommand{
			Direction: dir,
			CID:       cid,
			Payload:   append([]byte(nil), data[i:i+n]...),
		})
		i += n
	}

	return commands, nil
}

// EncodeMACCommands encodes MAC commands to bytes
func EncodeMACCommands(commands []MACCommand) []byte {
	var data []byte
	for _, cmd := range commands {
		data = append(data, byte(cmd.CID))
		data = append(data, cmd.Payload...)
	}
	return data
}
