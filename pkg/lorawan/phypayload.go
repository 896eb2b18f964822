package lorawan

import (
	"fmt"
)

// PHYPayload represents the physical payload
type PHYPayload struct {
	MHDR    MHDR
	Payload Payload
	MIC     MIC
}

// Decode parses a PHY payload. rootKey is only used for Join Accept frames;
// when it is nil the Join Accept is returned undecrypted. The MIC is read
// but never checked here, see ValidateJoinMIC and ValidateDataMIC.
func Decode(data []byte, rootKey *AES128Key) (*PHYPayload, error) {
	if len(data) < 1 {
		return nil, truncated("MHDR", 1, 0)
	}

	p := &PHYPayload{}
	if err := p.MHDR.UnmarshalBinary(data[:1]); err != nil {
		return nil, err
	}
	if p.MHDR.Major != LoRaWANR1 {
		return nil, &Error{Err: ErrUnsupportedVersion, Field: "MHDR.Major", Detail: fmt.Sprintf("major %d", p.MHDR.Major)}
	}

	if p.MHDR.MType == JoinAccept {
		if err := p.decodeJoinAccept(data[1:], rootKey); err != nil {
			return nil, err
		}
		return p, nil
	}

	if len(data) < 5 {
		return nil, truncated("MIC", 5, len(data))
	}
	body := data[1 : len(data)-4]
	copy(p.MIC[:], data[len(data)-4:])

	switch mt := p.MHDR.MType; {
	case mt == JoinRequest:
		jr := &JoinRequestPayload{}
		if err := jr.UnmarshalBinary(body); err != nil {
			return nil, err
		}
		p.Payload = jr
	case mt.IsData():
		if len(data) < 12 {
			return nil, truncated("FHDR", 12, len(data))
		}
		mac, err := unmarshalMACPayload(body, mt.Direction())
		if err != nil {
			return nil, err
		}
		p.Payload = mac
	default:
		p.Payload = &DataPayload{Bytes: append([]byte(nil), body...)}
	}

	return p, nil
}

func (p *PHYPayload) decodeJoinAccept(ciphertext []byte, rootKey *AES128Key) error {
	if err := checkJoinAcceptLen(len(ciphertext)); err != nil {
		return err
	}

	ja := &JoinAcceptPayload{Ciphertext: append([]byte(nil), ciphertext...)}
	p.Payload = ja
	if rootKey == nil {
		return nil
	}

	plain, err := DecryptJoinAccept(*rootKey, ciphertext)
	if err != nil {
		return err
	}
	if err := ja.UnmarshalBinary(plain[:len(plain)-4]); err != nil {
		return err
	}
	copy(p.MIC[:], plain[len(plain)-4:])
	return nil
}

// MarshalBinary encodes the frame. rootKey is required to encrypt a cleartext
// Join Accept; an undecrypted Join Accept is emitted as captured.
func (p *PHYPayload) MarshalBinary(rootKey *AES128Key) ([]byte, error) {
	if p.Payload == nil {
		return nil, fmt.Errorf("marshal %s: payload is nil", p.MHDR.MType)
	}

	mhdr, _ := p.MHDR.MarshalBinary()

	if ja, ok := p.Payload.(*JoinAcceptPayload); ok {
		if !ja.Decrypted {
			return append(mhdr, ja.Ciphertext...), nil
		}
		if rootKey == nil {
			return nil, &Error{Err: ErrMissingKey, Field: "AppKey", Detail: "join accept encryption"}
		}
		body, err := ja.MarshalBinary()
		if err != nil {
			return nil, err
		}
		ct, err := EncryptJoinAccept(*rootKey, append(body, p.MIC[:]...))
		if err != nil {
			return nil, err
		}
		return append(mhdr, ct...), nil
	}

	body, err := p.Payload.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", p.MHDR.MType, err)
	}

	data := make([]byte, 0, 1+len(body)+4)
	data = append(data, mhdr...)
	data = append(data, body...)
	data = append(data, p.MIC[:]...)
	return data, nil
}

// JoinRequest returns the join request payload or nil
func (p *PHYPayload) JoinRequest() *JoinRequestPayload {
	jr, _ := p.Payload.(*JoinRequestPayload)
	return jr
}

// JoinAccept returns the join accept payload or nil
func (p *PHYPayload) JoinAccept() *JoinAcceptPayload {
	ja, _ := p.Payload.(*JoinAcceptPayload)
	return ja
}

// MACPayload returns the data frame payload or nil
func (p *PHYPayload) MACPayload() *MACPayload {
	mac, _ := p.Payload.(*MACPayload)
	return mac
}
