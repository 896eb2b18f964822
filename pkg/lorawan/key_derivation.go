package lorawan

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// DerivedKeySet holds the session keys derived from one join handshake
type DerivedKeySet struct {
	NwkSKey     AES128Key
	AppSKey     AES128Key
	FNwkSIntKey AES128Key
	SNwkSIntKey AES128Key
	NwkSEncKey  AES128Key
}

// DeriveSessionKeys derives the five session keys:
//
//	NwkSKey     = aes128_encrypt(AppKey, 0x01 | AppNonce | NetID   | DevNonce | pad16)
//	AppSKey     = aes128_encrypt(AppKey, 0x02 | AppNonce | NetID   | DevNonce | pad16)
//	FNwkSIntKey = aes128_encrypt(NwkKey, 0x01 | AppNonce | JoinEUI | DevNonce | pad16)
//	SNwkSIntKey = aes128_encrypt(NwkKey, 0x03 | AppNonce | JoinEUI | DevNonce | pad16)
//	NwkSEncKey  = aes128_encrypt(NwkKey, 0x04 | AppNonce | JoinEUI | DevNonce | pad16)
//
// In LoRaWAN 1.0.x AppKey equals NwkKey and JoinEUI equals AppEUI.
func DeriveSessionKeys(appKey, nwkKey AES128Key, joinEUI EUI64, appNonce JoinNonce, netID NetID, devNonce DevNonce) (DerivedKeySet, error) {
	var ks DerivedKeySet

	appBlock, err := aes.NewCipher(appKey[:])
	if err != nil {
		return ks, fmt.Errorf("new cipher: %w", err)
	}
	nwkBlock, err := aes.NewCipher(nwkKey[:])
	if err != nil {
		return ks, fmt.Errorf("new cipher: %w", err)
	}

	joinEUIWire, _ := joinEUI.MarshalBinary()
	netIDWire := reversed(netID[:])

	appBlock.Encrypt(ks.NwkSKey[:], derivationBlock(0x01, appNonce, netIDWire, devNonce))
	appBlock.Encrypt(ks.AppSKey[:], derivationBlock(0x02, appNonce, netIDWire, devNonce))
	nwkBlock.Encrypt(ks.FNwkSIntKey[:], derivationBlock(0x01, appNonce, joinEUIWire, devNonce))
	nwkBlock.Encrypt(ks.SNwkSIntKey[:], derivationBlock(0x03, appNonce, joinEUIWire, devNonce))
	nwkBlock.Encrypt(ks.NwkSEncKey[:], derivationBlock(0x04, appNonce, joinEUIWire, devNonce))

	return ks, nil
}

func derivationBlock(ctrl byte, appNonce JoinNonce, id []byte, devNonce DevNonce) []byte {
	b := make([]byte, aes.BlockSize)
	b[0] = ctrl
	copy(b[1:4], reversed(appNonce[:]))
	n := 4 + copy(b[4:], id)
	binary.LittleEndian.PutUint16(b[n:n+2], uint16(devNonce))
	return b
}
