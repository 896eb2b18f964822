package lorawan

import (
	"encoding/binary"
	"fmt"

	"github.com/jacobsa/crypto/cmac"
)

// ComputeMIC returns the first 4 bytes of AES-CMAC(key, data)
func ComputeMIC(key AES128Key, data ...[]byte) (MIC, error) {
	var mic MIC

	hash, err := cmac.New(key[:])
	if err != nil {
		return mic, fmt.Errorf("new cmac: %w", err)
	}
	for _, d := range data {
		if _, err := hash.Write(d); err != nil {
			return mic, fmt.Errorf("write cmac: %w", err)
		}
	}

	copy(mic[:], hash.Sum(nil))
	return mic, nil
}

// DataMIC computes the MIC of a data frame: CMAC over B0 | msg,
// where msg is MHDR | FHDR | FPort | FRMPayload.
func DataMIC(key AES128Key, dir Direction, devAddr DevAddr, fCnt uint32, msg []byte) (MIC, error) {
	if len(msg) > 255 {
		return MIC{}, &Error{Err: ErrMalformedFrame, Field: "MACPayload", Detail: "message longer than 255 bytes"}
	}

	b0 := make([]byte, 16)
	b0[0] = 0x49
	b0[5] = byte(dir)
	addr, _ := devAddr.MarshalBinary()
	copy(b0[6:10], addr)
	binary.LittleEndian.PutUint32(b0[10:14], fCnt)
	b0[15] = byte(len(msg))

	return ComputeMIC(key, b0, msg)
}

// SetJoinMIC stamps a Join Request or Join Accept with the root key MIC
func (p *PHYPayload) SetJoinMIC(key AES128Key) error {
	mic, err := p.joinMIC(key)
	if err != nil {
		return err
	}
	p.MIC = mic
	return nil
}

// ValidateJoinMIC recomputes the join MIC and compares it with p.MIC
func (p *PHYPayload) ValidateJoinMIC(key AES128Key) (bool, error) {
	mic, err := p.joinMIC(key)
	if err != nil {
		return false, err
	}
	return mic == p.MIC, nil
}

func (p *PHYPayload) joinMIC(key AES128Key) (MIC, error) {
	var body []byte
	var err error

	switch pl := p.Payload.(type) {
	case *JoinRequestPayload:
		body, err = pl.MarshalBinary()
	case *JoinAcceptPayload:
		if !pl.Decrypted {
			return MIC{}, &Error{Err: ErrDecryptUnavailable, Field: "JoinAccept"}
		}
		body, err = pl.MarshalBinary()
	default:
		return MIC{}, fmt.Errorf("join MIC: unexpected payload %T for %s", p.Payload, p.MHDR.MType)
	}
	if err != nil {
		return MIC{}, err
	}

	mhdr, _ := p.MHDR.MarshalBinary()
	return ComputeMIC(key, mhdr, body)
}

// SetDataMIC stamps a data frame. fCntHigh supplies the upper 16 bits of the
// frame counter which are not transmitted.
func (p *PHYPayload) SetDataMIC(key AES128Key, fCntHigh uint16) error {
	mic, err := p.dataMIC(key, fCntHigh)
	if err != nil {
		return err
	}
	p.MIC = mic
	return nil
}

// ValidateDataMIC recomputes the data MIC and compares it with p.MIC
func (p *PHYPayload) ValidateDataMIC(key AES128Key, fCntHigh uint16) (bool, error) {
	mic, err := p.dataMIC(key, fCntHigh)
	if err != nil {
		return false, err
	}
	return mic == p.MIC, nil
}

func (p *PHYPayload) dataMIC(key AES128Key, fCntHigh uint16) (MIC, error) {
	mac, ok := p.Payload.(*MACPayload)
	if !ok || !p.MHDR.MType.IsData() {
		return MIC{}, fmt.Errorf("data MIC: unexpected payload %T for %s", p.Payload, p.MHDR.MType)
	}

	body, err := mac.MarshalBinary()
	if err != nil {
		return MIC{}, err
	}
	mhdr, _ := p.MHDR.MarshalBinary()
	msg := append(mhdr, body...)

	fCnt := uint32(fCntHigh)<<16 | uint32(mac.FHDR.FCnt)
	return DataMIC(key, p.MHDR.MType.Direction(), mac.FHDR.DevAddr, fCnt, msg)
}
