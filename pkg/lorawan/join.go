package lorawan

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

const (
	joinRequestLen = 18
	joinAcceptLen  = 12
	cfListLen      = 16
)

// JoinRequestPayload represents join request
type JoinRequestPayload struct {
	JoinEUI  EUI64
	DevEUI   EUI64
	DevNonce DevNonce
}

// MarshalBinary encodes JoinEUI | DevEUI | DevNonce in wire order
func (j *JoinRequestPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, joinRequestLen)
	b, _ := j.JoinEUI.MarshalBinary()
	data = append(data, b...)
	b, _ = j.DevEUI.MarshalBinary()
	data = append(data, b...)
	data = binary.LittleEndian.AppendUint16(data, uint16(j.DevNonce))
	return data, nil
}

// UnmarshalBinary decodes a join request payload
func (j *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) < joinRequestLen {
		return truncated("JoinRequest", joinRequestLen, len(data))
	}
	if len(data) > joinRequestLen {
		return &Error{Err: ErrMalformedFrame, Field: "JoinRequest", Detail: fmt.Sprintf("expected %d bytes, got %d", joinRequestLen, len(data))}
	}

	if err := j.JoinEUI.UnmarshalBinary(data[0:8]); err != nil {
		return err
	}
	if err := j.DevEUI.UnmarshalBinary(data[8:16]); err != nil {
		return err
	}
	j.DevNonce = DevNonce(binary.LittleEndian.Uint16(data[16:18]))
	return nil
}

// DLSettings represents downlink settings
type DLSettings struct {
	RX1DROffset uint8
	RX2DataRate uint8
}

// JoinAcceptPayload represents join accept. Decrypted is false when the
// frame was decoded without a root key; only Ciphertext is valid then.
type JoinAcceptPayload struct {
	Decrypted  bool
	Ciphertext []byte

	AppNonce   JoinNonce
	NetID      NetID
	DevAddr    DevAddr
	DLSettings DLSettings
	RxDelay    uint8
	CFList     []byte
}

// MarshalBinary encodes the cleartext fields (without MIC)
func (j *JoinAcceptPayload) MarshalBinary() ([]byte, error) {
	if !j.Decrypted {
		return nil, &Error{Err: ErrDecryptUnavailable, Field: "JoinAccept"}
	}
	if len(j.CFList) != 0 && len(j.CFList) != cfListLen {
		return nil, &Error{Err: ErrMalformedFrame, Field: "JoinAccept.CFList", Detail: fmt.Sprintf("%d bytes, expected %d", len(j.CFList), cfListLen)}
	}

	data := make([]byte, 0, joinAcceptLen+len(j.CFList))
	data = append(data, reversed(j.AppNonce[:])...)
	data = append(data, reversed(j.NetID[:])...)
	b, _ := j.DevAddr.MarshalBinary()
	data = append(data, b...)
	data = append(data, (j.DLSettings.RX1DROffset&0x07)<<4|j.DLSettings.RX2DataRate&0x0f)
	data = append(data, j.RxDelay)
	data = append(data, j.CFList...)

	return data, nil
}

// UnmarshalBinary decodes the cleartext fields (without MIC)
func (j *JoinAcceptPayload) UnmarshalBinary(data []byte) error {
	if len(data) < joinAcceptLen {
		return truncated("JoinAccept", joinAcceptLen, len(data))
	}
	if len(data) != joinAcceptLen && len(data) != joinAcceptLen+cfListLen {
		return &Error{Err: ErrMalformedFrame, Field: "JoinAccept", Detail: fmt.Sprintf("unexpected length %d", len(data))}
	}

	j.Decrypted = true
	copy(j.AppNonce[:], reversed(data[0:3]))
	copy(j.NetID[:], reversed(data[3:6]))
	if err := j.DevAddr.UnmarshalBinary(data[6:10]); err != nil {
		return err
	}
	j.DLSettings.RX1DROffset = (data[10] >> 4) & 0x07
	j.DLSettings.RX2DataRate = data[10] & 0x0f
	j.RxDelay = data[11]

	j.CFList = nil
	if len(data) > joinAcceptLen {
		j.CFList = append([]byte(nil), data[joinAcceptLen:]...)
	}
	return nil
}

// The network encrypts a Join Accept with AES decrypt and the device recovers
// it with AES encrypt, so a passive observer holding the root key decrypts
// with the encrypt primitive.

// DecryptJoinAccept recovers fields|MIC from the ciphertext following MHDR
func DecryptJoinAccept(key AES128Key, ciphertext []byte) ([]byte, error) {
	if err := checkJoinAcceptLen(len(ciphertext)); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}
	return out, nil
}

// EncryptJoinAccept produces the ciphertext the network sends for fields|MIC
func EncryptJoinAccept(key AES128Key, cleartext []byte) ([]byte, error) {
	if err := checkJoinAcceptLen(len(cleartext)); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	out := make([]byte, len(cleartext))
	for i := 0; i < len(cleartext); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], cleartext[i:i+aes.BlockSize])
	}
	return out, nil
}

func checkJoinAcceptLen(n int) error {
	switch {
	case n < aes.BlockSize:
		return truncated("JoinAccept", aes.BlockSize, n)
	case n != aes.BlockSize && n != 2*aes.BlockSize:
		return &Error{Err: ErrMalformedFrame, Field: "JoinAccept", Detail: fmt.Sprintf("ciphertext must be 16 or 32 bytes, got %d", n)}
	}
	return nil
}
