package lorawan

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// Payload is implemented by the message-type specific payloads
type Payload interface {
	MarshalBinary() ([]byte, error)
}

// FCtrl represents the frame control byte
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	ClassB    bool // uplink
	FPending  bool // downlink
}

// FHDR represents the frame header
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16
	FOpts   []byte
}

// MACPayload represents the payload of a data frame
type MACPayload struct {
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte
}

// MarshalBinary encodes FHDR | FPort | FRMPayload
func (m *MACPayload) MarshalBinary() ([]byte, error) {
	if len(m.FHDR.FOpts) > 15 {
		return nil, &Error{Err: ErrMalformedFrame, Field: "FHDR.FOpts", Detail: fmt.Sprintf("%d bytes, max 15", len(m.FHDR.FOpts))}
	}
	if m.FPort == nil && len(m.FRMPayload) > 0 {
		return nil, &Error{Err: ErrMalformedFrame, Field: "FPort", Detail: "FRMPayload without FPort"}
	}

	data := make([]byte, 0, 7+len(m.FHDR.FOpts)+1+len(m.FRMPayload))

	addr, _ := m.FHDR.DevAddr.MarshalBinary()
	data = append(data, addr...)

	fctrl := byte(len(m.FHDR.FOpts))
	if m.FHDR.FCtrl.ADR {
		fctrl |= 0x80
	}
	if m.FHDR.FCtrl.ADRACKReq {
		fctrl |= 0x40
	}
	if m.FHDR.FCtrl.ACK {
		fctrl |= 0x20
	}
	if m.FHDR.FCtrl.ClassB || m.FHDR.FCtrl.FPending {
		fctrl |= 0x10
	}
	data = append(data, fctrl)

	data = binary.LittleEndian.AppendUint16(data, m.FHDR.FCnt)
	data = append(data, m.FHDR.FOpts...)

	if m.FPort != nil {
		data = append(data, *m.FPort)
		data = append(data, m.FRMPayload...)
	}

	return data, nil
}

// unmarshalMACPayload decodes FHDR | FPort | FRMPayload. The direction
// selects the meaning of FCtrl bit 4.
func unmarshalMACPayload(data []byte, dir Direction) (*MACPayload, error) {
	if len(data) < 7 {
		return nil, truncated("FHDR", 7, len(data))
	}

	m := &MACPayload{}
	if err := m.FHDR.DevAddr.UnmarshalBinary(data[0:4]); err != nil {
		return nil, err
	}

	fctrl := data[4]
	m.FHDR.FCtrl.ADR = fctrl&0x80 != 0
	m.FHDR.FCtrl.ADRACKReq = fctrl&0x40 != 0
	m.FHDR.FCtrl.ACK = fctrl&0x20 != 0
	if dir == Uplink {
		m.FHDR.FCtrl.ClassB = fctrl&0x10 != 0
	} else {
		m.FHDR.FCtrl.FPending = fctrl&0x10 != 0
	}
	foptsLen := int(fctrl & 0x0f)

	m.FHDR.FCnt = binary.LittleEndian.Uint16(data[5:7])
	pos := 7

	if foptsLen > 0 {
		if pos+foptsLen > len(data) {
			return nil, truncated("FHDR.FOpts", pos+foptsLen, len(data))
		}
		m.FHDR.FOpts = append([]byte(nil), data[pos:pos+foptsLen]...)
		pos += foptsLen
	}

	if pos < len(data) {
		fport := data[pos]
		m.FPort = &fport
		pos++
		m.FRMPayload = append([]byte{}, data[pos:]...)
	}

	return m, nil
}

// DataPayload is an opaque payload (RejoinRequest, Proprietary)
type DataPayload struct {
	Bytes []byte
}

// MarshalBinary returns the raw bytes
func (p *DataPayload) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), p.Bytes...), nil
}

// CipherFRMPayload encrypts or decrypts an FRMPayload; the operation is its
// own inverse. The keystream block A_i is
// 0x01 | 0x00*4 | dir | DevAddr | FCnt(32) | 0x00 | i.
func CipherFRMPayload(key AES128Key, dir Direction, devAddr DevAddr, fCnt uint32, data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	if len(data) == 0 {
		return out, nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	a := make([]byte, aes.BlockSize)
	a[0] = 0x01
	a[5] = byte(dir)
	addr, _ := devAddr.MarshalBinary()
	copy(a[6:10], addr)
	binary.LittleEndian.PutUint32(a[10:14], fCnt)

	s := make([]byte, aes.BlockSize)
	for i := 0; i < len(data); i += aes.BlockSize {
		a[15] = byte(i/aes.BlockSize + 1)
		block.Encrypt(s, a)

		end := i + aes.BlockSize
		if end > len(data) {
			end = len(data)
		}
		for j := i; j < end; j++ {
			out[j] = data[j] ^ s[j-i]
		}
	}

	return out, nil
}

// DecryptFRMPayload returns the cleartext FRMPayload of a data frame.
// fCntHigh supplies the untransmitted upper counter bits.
func (m *MACPayload) DecryptFRMPayload(key AES128Key, dir Direction, fCntHigh uint16) ([]byte, error) {
	fCnt := uint32(fCntHigh)<<16 | uint32(m.FHDR.FCnt)
	return CipherFRMPayload(key, dir, m.FHDR.DevAddr, fCnt, m.FRMPayload)
}

// FullFCnt reconstructs a 32-bit counter from the last known value and the
// transmitted 16 bits, allowing for a single rollover.
func FullFCnt(last uint32, fCnt uint16) uint32 {
	upper := last & 0xffff0000
	if uint16(last) > fCnt && uint16(last)-fCnt > 0x8000 {
		upper += 0x10000
	}
	return upper | uint32(fCnt)
}
