package lorawan

import (
	"encoding/hex"
	"testing"

	"github.com/jacobsa/crypto/cmac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 4493 section 4 examples, truncated to the MIC width
func TestComputeMICRFC4493(t *testing.T) {
	key := mustKey(t, testAppKey)

	tests := []struct {
		msg  string
		want string
	}{
		{"", "bb1d6929"},
		{"6bc1bee22e409f96e93d7e117393172a", "070a16b4"},
	}

	for _, tt := range tests {
		mic, err := ComputeMIC(key, mustHex(t, tt.msg))
		require.NoError(t, err)
		assert.Equal(t, tt.want, mic.String())
	}
}

func TestComputeMICChunked(t *testing.T) {
	key := mustKey(t, testAppKey)
	msg := mustHex(t, "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e51")

	whole, err := ComputeMIC(key, msg)
	require.NoError(t, err)

	split, err := ComputeMIC(key, msg[:5], msg[5:21], msg[21:])
	require.NoError(t, err)
	assert.Equal(t, whole, split)

	h, err := cmac.New(key[:])
	require.NoError(t, err)
	_, _ = h.Write(msg)
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)[:4]), whole.String())
}

func TestSetJoinMICJoinRequest(t *testing.T) {
	joinEUI, _ := ParseEUI64("0000000000000000")
	devEUI, _ := ParseEUI64("3333333333333333")
	devNonce, _ := ParseDevNonce("1237")

	p := &PHYPayload{
		MHDR: MHDR{MType: JoinRequest, Major: LoRaWANR1},
		Payload: &JoinRequestPayload{
			JoinEUI:  joinEUI,
			DevEUI:   devEUI,
			DevNonce: devNonce,
		},
	}
	require.NoError(t, p.SetJoinMIC(mustKey(t, testAppKey)))

	out, err := p.MarshalBinary(nil)
	require.NoError(t, err)
	assert.Equal(t, testJoinRequest, hex.EncodeToString(out))

	ok, err := p.ValidateJoinMIC(mustKey(t, "00000000000000000000000000000000"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetDataMICAck(t *testing.T) {
	devAddr, _ := ParseDevAddr("260b4ede")
	p := &PHYPayload{
		MHDR: MHDR{MType: UnconfirmedDataDown, Major: LoRaWANR1},
		Payload: &MACPayload{
			FHDR: FHDR{
				DevAddr: devAddr,
				FCtrl:   FCtrl{ACK: true},
				FCnt:    11,
			},
		},
	}

	nwkSKey := mustKey(t, "43398084a3b09723a3846f54bb47b795")
	require.NoError(t, p.SetDataMIC(nwkSKey, 0))

	out, err := p.MarshalBinary(nil)
	require.NoError(t, err)
	assert.Equal(t, "60de4e0b26200b0055c57c1b", hex.EncodeToString(out))

	ok, err := p.ValidateDataMIC(nwkSKey, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// the upper counter bits take part in B0
	ok, err = p.ValidateDataMIC(nwkSKey, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDataMICRejectsJoinFrames(t *testing.T) {
	p, err := Decode(mustHex(t, testJoinRequest), nil)
	require.NoError(t, err)

	_, err = p.ValidateDataMIC(mustKey(t, testAppKey), 0)
	assert.Error(t, err)
}

func TestDataMICLength(t *testing.T) {
	_, err := DataMIC(mustKey(t, testAppKey), Uplink, DevAddr{}, 0, make([]byte, 256))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
