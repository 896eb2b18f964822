package lorawan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMACCommands(t *testing.T) {
	tests := []struct {
		name  string
		dir   Direction
		data  string
		names []string
	}{
		{"uplink link check and dev status", Uplink, "02061f05", []string{"LinkCheckReq", "DevStatusAns"}},
		{"downlink link adr", Downlink, "0351ff0001", []string{"LinkADRReq"}},
		{"downlink link check answer", Downlink, "020a01", []string{"LinkCheckAns"}},
		{"uplink device time", Uplink, "0d", []string{"DeviceTimeReq"}},
		{"empty", Uplink, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, err := ParseMACCommands(tt.dir, mustHex(t, tt.data))
			require.NoError(t, err)

			var names []string
			for _, c := range cmds {
				names = append(names, c.Name())
			}
			assert.Equal(t, tt.names, names)
			if len(cmds) > 0 {
				assert.Equal(t, mustHex(t, tt.data), EncodeMACCommands(cmds))
			}
		})
	}
}

func TestParseMACCommandsErrors(t *testing.T) {
	cmds, err := ParseMACCommands(Uplink, mustHex(t, "02ff"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	require.Len(t, cmds, 1)
	assert.Equal(t, "LinkCheckReq", cmds[0].String())

	_, err = ParseMACCommands(Downlink, mustHex(t, "0351ff"))
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestMACCommandString(t *testing.T) {
	c := MACCommand{Direction: Uplink, CID: DevStatus, Payload: []byte{0x1f, 0x05}}
	assert.Equal(t, "DevStatusAns(1f05)", c.String())
}
