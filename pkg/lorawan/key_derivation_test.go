package lorawan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionKeys(t *testing.T) {
	key := mustKey(t, testAppKey)
	joinEUI, _ := ParseEUI64("0000000000000000")
	appNonce, _ := ParseJoinNonce("010203")
	netID, _ := ParseNetID("000013")
	devNonce, _ := ParseDevNonce("1237")

	ks, err := DeriveSessionKeys(key, key, joinEUI, appNonce, netID, devNonce)
	require.NoError(t, err)

	assert.Equal(t, "43398084a3b09723a3846f54bb47b795", ks.NwkSKey.String())
	assert.Equal(t, "aeedc14262e2f93d65c43c43d47fcf08", ks.AppSKey.String())
	assert.Equal(t, "d31b878e00f1c3e8c1af456a8ed21b25", ks.FNwkSIntKey.String())
	assert.Equal(t, "39bffd8822f59ca6408d382c2908943b", ks.SNwkSIntKey.String())
	assert.Equal(t, "98d64d7fea89f449c832e60714cfaaea", ks.NwkSEncKey.String())

	again, err := DeriveSessionKeys(key, key, joinEUI, appNonce, netID, devNonce)
	require.NoError(t, err)
	assert.Equal(t, ks, again)
}

func TestDeriveSessionKeysInputsMatter(t *testing.T) {
	key := mustKey(t, testAppKey)
	joinEUI, _ := ParseEUI64("0000000000000000")
	appNonce, _ := ParseJoinNonce("010203")
	netID, _ := ParseNetID("000013")

	a, err := DeriveSessionKeys(key, key, joinEUI, appNonce, netID, 0x1237)
	require.NoError(t, err)
	b, err := DeriveSessionKeys(key, key, joinEUI, appNonce, netID, 0x1238)
	require.NoError(t, err)

	assert.NotEqual(t, a.NwkSKey, b.NwkSKey)
	assert.NotEqual(t, a.AppSKey, b.AppSKey)
	assert.NotEqual(t, a.NwkSKey, a.AppSKey)

	// with the default JoinEUI and NetID only the control byte separates these
	assert.NotEqual(t, a.NwkSKey, a.FNwkSIntKey)
}

func TestDerivationBlock(t *testing.T) {
	appNonce, _ := ParseJoinNonce("010203")
	b := derivationBlock(0x02, appNonce, []byte{0x13, 0x00, 0x00}, 0x1237)

	assert.Equal(t, []byte{
		0x02,
		0x03, 0x02, 0x01,
		0x13, 0x00, 0x00,
		0x37, 0x12,
		0, 0, 0, 0, 0, 0, 0,
	}, b)
}
