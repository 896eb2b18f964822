package gateway

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

var testGatewayEUI = []byte{0xaa, 0x55, 0x5a, 0x00, 0x00, 0x00, 0x01, 0x01}

func startForwarder(t *testing.T) (*UDPForwarder, *net.UDPConn) {
	t.Helper()

	tx := models.TXInfo{Frequency: 868.1, Bandwidth: 125, SpreadingFactor: 7, Power: 14}
	fw, err := NewUDPForwarder("127.0.0.1:0", tx, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go fw.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		fw.Close()
	})

	conn, err := net.DialUDP("udp", nil, fw.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return fw, conn
}

func packet(token uint16, identifier byte, body []byte) []byte {
	b := []byte{ProtocolVersion, byte(token >> 8), byte(token), identifier}
	b = append(b, testGatewayEUI...)
	return append(b, body...)
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestUDPForwarderUplink(t *testing.T) {
	fw, conn := startForwarder(t)

	phy, _ := hex.DecodeString("00000000000000000033333333333333333712af7e4681")
	body := fmt.Sprintf(`{"rxpk":[{"tmst":3512348611,"chan":2,"rfch":0,"freq":868.5,"stat":1,"modu":"LORA","datr":"SF7BW125","codr":"4/5","rssi":-35,"lsnr":5.1,"size":%d,"data":%q}]}`,
		len(phy), base64.StdEncoding.EncodeToString(phy))

	_, err := conn.Write(packet(0x1234, PushData, []byte(body)))
	require.NoError(t, err)

	ack := readPacket(t, conn)
	assert.Equal(t, []byte{ProtocolVersion, 0x12, 0x34, PushAck}, ack)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := fw.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, phy, f.PHYPayload)
	require.NotNil(t, f.RXInfo)
	assert.Equal(t, "aa555a0000000101", f.RXInfo.GatewayID)
	assert.Equal(t, 868.5, f.RXInfo.Frequency)
	assert.Equal(t, -35, f.RXInfo.RSSI)
	assert.Equal(t, "SF7BW125", f.RXInfo.DataRate)
	assert.Equal(t, 2, f.RXInfo.Channel)
}

func TestUDPForwarderDownlink(t *testing.T) {
	fw, conn := startForwarder(t)

	assert.ErrorIs(t, fw.Send(context.Background(), []byte{0x60}), ErrNoGateway)

	_, err := conn.Write(packet(0xbeef, PullData, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{ProtocolVersion, 0xbe, 0xef, PullAck}, readPacket(t, conn))

	frame, _ := hex.DecodeString("6088889999200b00ad8b76f9")
	require.NoError(t, fw.Send(context.Background(), frame))

	resp := readPacket(t, conn)
	require.Greater(t, len(resp), 4)
	assert.Equal(t, byte(PullResp), resp[3])

	var msg pullRespPayload
	require.NoError(t, json.Unmarshal(resp[4:], &msg))
	assert.True(t, msg.TXPK.Imme)
	assert.Equal(t, 868.1, msg.TXPK.Freq)
	assert.Equal(t, DataRate("SF7BW125"), msg.TXPK.Datr)
	assert.Equal(t, "LORA", msg.TXPK.Modu)
	assert.Equal(t, len(frame), msg.TXPK.Size)

	got, err := msg.TXPK.PHYPayload()
	require.NoError(t, err)
	assert.Equal(t, frame, got)

	gws := fw.Gateways()
	require.Len(t, gws, 1)
	assert.NotNil(t, gws[0].PullAddr)
}

func TestUDPForwarderClose(t *testing.T) {
	fw, _ := startForwarder(t)
	require.NoError(t, fw.Close())

	_, err := fw.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestUDPForwarderPrune(t *testing.T) {
	fw, conn := startForwarder(t)

	_, err := conn.Write(packet(1, PullData, nil))
	require.NoError(t, err)
	readPacket(t, conn)

	fw.prune(time.Now().Add(gatewayTimeout + time.Minute))
	assert.Empty(t, fw.Gateways())
	assert.ErrorIs(t, fw.Send(context.Background(), []byte{0x60}), ErrNoGateway)
}

func TestDataRateUnmarshal(t *testing.T) {
	var pk RXPK
	require.NoError(t, json.Unmarshal([]byte(`{"datr":50000,"modu":"FSK"}`), &pk))
	assert.Equal(t, DataRate("50000"), pk.Datr)

	require.NoError(t, json.Unmarshal([]byte(`{"datr":"SF12BW125"}`), &pk))
	assert.Equal(t, DataRate("SF12BW125"), pk.Datr)
}

func TestRXPKCapturedFrameBadData(t *testing.T) {
	_, err := RXPK{Data: "!!"}.CapturedFrame("gw")
	assert.Error(t, err)
}
