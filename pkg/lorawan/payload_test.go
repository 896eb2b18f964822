package lorawan

import (
	"encoding/hex"
	"math/rand"
	"testing"

	brocaar "github.com/brocaar/lorawan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func mustKey(t *testing.T, s string) AES128Key {
	t.Helper()
	k, err := ParseAES128Key(s)
	require.NoError(t, err)
	return k
}

func TestCipherFRMPayloadKnownVector(t *testing.T) {
	key := mustKey(t, "C1076C63B971710A708E3471A7C803D7")
	devAddr, err := ParseDevAddr("260b4ede")
	require.NoError(t, err)

	ciphertext := mustHex(t, "247D22681F66D35B67AD93B3FE")

	plain, err := CipherFRMPayload(key, Uplink, devAddr, 0x22, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "48656c6c6f20576f726c64a378", hex.EncodeToString(plain))
	assert.Equal(t, "Hello World", string(plain[:11]))

	again, err := CipherFRMPayload(key, Uplink, devAddr, 0x22, plain)
	require.NoError(t, err)
	assert.Equal(t, ciphertext, again)
}

func TestCipherFRMPayloadInvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, size := range []int{0, 1, 15, 16, 17, 31, 32, 33, 100, 242} {
		var key AES128Key
		var devAddr DevAddr
		rng.Read(key[:])
		rng.Read(devAddr[:])
		payload := make([]byte, size)
		rng.Read(payload)

		for _, dir := range []Direction{Uplink, Downlink} {
			fCnt := rng.Uint32()
			once, err := CipherFRMPayload(key, dir, devAddr, fCnt, payload)
			require.NoError(t, err)
			require.Len(t, once, size)

			twice, err := CipherFRMPayload(key, dir, devAddr, fCnt, once)
			require.NoError(t, err)
			assert.Equal(t, payload, twice, "size %d dir %s", size, dir)
		}
	}
}

func TestCipherFRMPayloadMatchesBrocaar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		var key AES128Key
		var devAddr DevAddr
		rng.Read(key[:])
		rng.Read(devAddr[:])
		payload := make([]byte, rng.Intn(64)+1)
		rng.Read(payload)
		fCnt := rng.Uint32()
		uplink := i%2 == 0

		dir := Downlink
		if uplink {
			dir = Uplink
		}

		got, err := CipherFRMPayload(key, dir, devAddr, fCnt, payload)
		require.NoError(t, err)

		want, err := brocaar.EncryptFRMPayload(brocaar.AES128Key(key), uplink, brocaar.DevAddr(devAddr), fCnt, payload)
		require.NoError(t, err)

		assert.Equal(t, want, got)
	}
}

func TestCipherFRMPayloadDoesNotAlias(t *testing.T) {
	key := mustKey(t, "C1076C63B971710A708E3471A7C803D7")
	in := []byte{1, 2, 3}
	out, err := CipherFRMPayload(key, Uplink, DevAddr{}, 0, in)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, in)
	assert.NotEqual(t, in, out)
}

func TestFullFCnt(t *testing.T) {
	tests := []struct {
		last uint32
		fCnt uint16
		want uint32
	}{
		{0, 1, 1},
		{0x0000fffe, 0xffff, 0x0000ffff},
		{0x0000ffff, 0x0001, 0x00010001},
		{0x00010005, 0x0004, 0x00010004},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FullFCnt(tt.last, tt.fCnt))
	}
}
