package lorawan

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppKey = "2b7e151628aed2a6abf7158809cf4f3c"

	// AppNonce 010203, NetID 000013, DevAddr 260b4ede, RX1DROffset 0, RX2DR 0, RxDelay 1
	testJoinAccept       = "20af69affb175ae4349cc0dbbd2924749e"
	testJoinAcceptCFList = "204f20ad72fe8fdcd8a7509987b6cecd1ca7e10294bb4bbae12526d44bb44973e3"
	testCFList           = "184f84e85684b85e84886684586e8400"

	// JoinEUI 0000000000000000, DevEUI 3333333333333333, DevNonce 1237
	testJoinRequest = "00000000000000000033333333333333333712af7e4681"

	// DevAddr 260b4ede, ADR, FCnt 8, FPort 1
	testDataUp = "40de4e0b2680080001b7bdb6a97da328f44fe5ece3d77395775a"
)

func TestDecodeJoinRequest(t *testing.T) {
	p, err := Decode(mustHex(t, testJoinRequest), nil)
	require.NoError(t, err)

	assert.Equal(t, JoinRequest, p.MHDR.MType)
	assert.Equal(t, LoRaWANR1, p.MHDR.Major)

	jr := p.JoinRequest()
	require.NotNil(t, jr)
	assert.Equal(t, "0000000000000000", jr.JoinEUI.String())
	assert.Equal(t, "3333333333333333", jr.DevEUI.String())
	assert.Equal(t, "1237", jr.DevNonce.String())
	assert.Equal(t, "af7e4681", p.MIC.String())

	ok, err := p.ValidateJoinMIC(mustKey(t, testAppKey))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecodeJoinAccept(t *testing.T) {
	key := mustKey(t, testAppKey)

	tests := []struct {
		name   string
		frame  string
		cfList string
		mic    string
	}{
		{"without CFList", testJoinAccept, "", "19f77a08"},
		{"with CFList", testJoinAcceptCFList, testCFList, "12e8e005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(mustHex(t, tt.frame), &key)
			require.NoError(t, err)
			assert.Equal(t, JoinAccept, p.MHDR.MType)

			ja := p.JoinAccept()
			require.NotNil(t, ja)
			assert.True(t, ja.Decrypted)
			assert.Equal(t, "010203", ja.AppNonce.String())
			assert.Equal(t, "000013", ja.NetID.String())
			assert.Equal(t, "260b4ede", ja.DevAddr.String())
			assert.Equal(t, uint8(1), ja.RxDelay)
			assert.Equal(t, tt.cfList, hex.EncodeToString(ja.CFList))
			assert.Equal(t, tt.mic, p.MIC.String())

			ok, err := p.ValidateJoinMIC(key)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestDecodeJoinAcceptWithoutKey(t *testing.T) {
	frame := mustHex(t, testJoinAccept)

	p, err := Decode(frame, nil)
	require.NoError(t, err)

	ja := p.JoinAccept()
	require.NotNil(t, ja)
	assert.False(t, ja.Decrypted)
	assert.Equal(t, frame[1:], ja.Ciphertext)

	_, err = p.ValidateJoinMIC(mustKey(t, testAppKey))
	assert.True(t, errors.Is(err, ErrDecryptUnavailable))

	// opaque frames are re-emitted verbatim
	out, err := p.MarshalBinary(nil)
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestEncodeJoinAccept(t *testing.T) {
	key := mustKey(t, testAppKey)
	appNonce, _ := ParseJoinNonce("010203")
	netID, _ := ParseNetID("000013")
	devAddr, _ := ParseDevAddr("260b4ede")

	p := &PHYPayload{
		MHDR: MHDR{MType: JoinAccept, Major: LoRaWANR1},
		Payload: &JoinAcceptPayload{
			Decrypted: true,
			AppNonce:  appNonce,
			NetID:     netID,
			DevAddr:   devAddr,
			RxDelay:   1,
		},
	}
	require.NoError(t, p.SetJoinMIC(key))
	assert.Equal(t, "19f77a08", p.MIC.String())

	out, err := p.MarshalBinary(&key)
	require.NoError(t, err)
	assert.Equal(t, testJoinAccept, hex.EncodeToString(out))

	_, err = p.MarshalBinary(nil)
	assert.True(t, errors.Is(err, ErrMissingKey))
}

func TestDecodeDataUp(t *testing.T) {
	p, err := Decode(mustHex(t, testDataUp), nil)
	require.NoError(t, err)
	assert.Equal(t, UnconfirmedDataUp, p.MHDR.MType)

	mac := p.MACPayload()
	require.NotNil(t, mac)
	assert.Equal(t, "260b4ede", mac.FHDR.DevAddr.String())
	assert.True(t, mac.FHDR.FCtrl.ADR)
	assert.False(t, mac.FHDR.FCtrl.ACK)
	assert.Equal(t, uint16(8), mac.FHDR.FCnt)
	assert.Empty(t, mac.FHDR.FOpts)
	require.NotNil(t, mac.FPort)
	assert.Equal(t, uint8(1), *mac.FPort)
	assert.Equal(t, "b7bdb6a97da328f44fe5ece3d7", hex.EncodeToString(mac.FRMPayload))
	assert.Equal(t, "7395775a", p.MIC.String())

	plain, err := mac.DecryptFRMPayload(mustKey(t, "C1076C63B971710A708E3471A7C803D7"), Uplink, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(plain[:11]))

	ok, err := p.ValidateDataMIC(mustKey(t, "43398084a3b09723a3846f54bb47b795"), 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecodeDataDownFCtrl(t *testing.T) {
	// UnconfirmedDataDown, ACK + FPending, one FOpts byte, no FPort
	frame := mustHex(t, "60de4e0b2631020003aabbccdd")
	p, err := Decode(frame, nil)
	require.NoError(t, err)

	mac := p.MACPayload()
	require.NotNil(t, mac)
	assert.True(t, mac.FHDR.FCtrl.ACK)
	assert.True(t, mac.FHDR.FCtrl.FPending)
	assert.False(t, mac.FHDR.FCtrl.ClassB)
	assert.Equal(t, []byte{0x03}, mac.FHDR.FOpts)
	assert.Equal(t, uint16(2), mac.FHDR.FCnt)
	assert.Nil(t, mac.FPort)
	assert.Equal(t, "aabbccdd", p.MIC.String())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		kind  error
		field string
	}{
		{"empty", "", ErrTruncatedFrame, "MHDR"},
		{"major 1", "0100000000000000000033333333333333333712af7e4681", ErrUnsupportedVersion, "MHDR.Major"},
		{"short join request", "0000000000000000003333333333333333af7e4681", ErrTruncatedFrame, "JoinRequest"},
		{"long join request", "0000000000000000000033333333333333333712af7e4681", ErrMalformedFrame, "JoinRequest"},
		{"short join accept", "20af69affb175ae4", ErrTruncatedFrame, "JoinAccept"},
		{"odd join accept", "20af69affb175ae4349cc0dbbd2924749e00", ErrMalformedFrame, "JoinAccept"},
		{"short data", "40de4e0b268008", ErrTruncatedFrame, "FHDR"},
		{"fopts past end", "40de4e0b268f080001aabbccdd", ErrTruncatedFrame, "FHDR.FOpts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := mustKey(t, testAppKey)
			_, err := Decode(mustHex(t, tt.frame), &key)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			var lerr *Error
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, tt.field, lerr.Field)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	key := mustKey(t, testAppKey)

	frames := []string{
		testJoinRequest,
		testJoinAccept,
		testJoinAcceptCFList,
		testDataUp,
		"60de4e0b26200b0055c57c1b",
		"60de4e0b2631020003aabbccdd",
		"80de4e0b2600010005aabbccdd11223344",
		"e0cafebabe01020304",
	}

	for _, f := range frames {
		t.Run(f, func(t *testing.T) {
			first, err := Decode(mustHex(t, f), &key)
			require.NoError(t, err)

			b, err := first.MarshalBinary(&key)
			require.NoError(t, err)
			assert.Equal(t, f, hex.EncodeToString(b))

			second, err := Decode(b, &key)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}
