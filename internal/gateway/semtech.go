package gateway

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// Semtech UDP 协议常量
const (
	ProtocolVersion = 2

	// 消息类型
	PushData = 0x00
	PushAck  = 0x01
	PullData = 0x02
	PullResp = 0x03
	PullAck  = 0x04
	TxAck    = 0x05
)

// packetHeader 协议版本 | token | 标识符，上行包后面跟网关 EUI
type packetHeader struct {
	Version    uint8
	Token      uint16
	Identifier uint8
}

func parseHeader(data []byte) (packetHeader, error) {
	if len(data) < 4 {
		return packetHeader{}, fmt.Errorf("packet too short: %d bytes", len(data))
	}
	return packetHeader{
		Version:    data[0],
		Token:      binary.BigEndian.Uint16(data[1:3]),
		Identifier: data[3],
	}, nil
}

func (h packetHeader) ack(identifier uint8) []byte {
	b := make([]byte, 4)
	b[0] = h.Version
	binary.BigEndian.PutUint16(b[1:3], h.Token)
	b[3] = identifier
	return b
}

func gatewayIDOf(data []byte) (string, error) {
	if len(data) < 12 {
		return "", fmt.Errorf("packet too short for gateway EUI: %d bytes", len(data))
	}
	return fmt.Sprintf("%016x", data[4:12]), nil
}

// DataRate rxpk/txpk 的 datr 字段：LoRa 为 SF7BW125 形式的字符串，FSK 为比特率数字
type DataRate string

// UnmarshalJSON 两种形式都接受
func (d *DataRate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = DataRate(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("datr: %w", err)
	}
	*d = DataRate(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// RXPK PUSH_DATA 消息中的一个接收包
type RXPK struct {
	Time string   `json:"time,omitempty"`
	Tmst uint32   `json:"tmst"`
	Chan int      `json:"chan"`
	RFCh int      `json:"rfch"`
	Freq float64  `json:"freq"`
	Stat int      `json:"stat"`
	Modu string   `json:"modu"`
	Datr DataRate `json:"datr"`
	Codr string   `json:"codr,omitempty"`
	RSSI int      `json:"rssi"`
	LSNR float64  `json:"lsnr"`
	Size int      `json:"size"`
	Data string   `json:"data"`
}

// CapturedFrame 把数据包转换为分析器使用的帧
func (p RXPK) CapturedFrame(gatewayID string) (models.CapturedFrame, error) {
	phy, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return models.CapturedFrame{}, fmt.Errorf("rxpk data: %w", err)
	}

	rx := &models.RXInfo{
		GatewayID: gatewayID,
		Frequency: p.Freq,
		DataRate:  string(p.Datr),
		RSSI:      p.RSSI,
		LoRaSNR:   p.LSNR,
		Channel:   p.Chan,
		RFChain:   p.RFCh,
	}
	if p.Time != "" {
		if t, err := time.Parse(time.RFC3339Nano, p.Time); err == nil {
			rx.Time = t
		}
	}

	return models.CapturedFrame{
		PHYPayload: phy,
		ReceivedAt: time.Now(),
		Source:     "gateway:" + gatewayID,
		RXInfo:     rx,
	}, nil
}

type pushDataPayload struct {
	RXPK []RXPK         `json:"rxpk"`
	Stat map[string]any `json:"stat,omitempty"`
}

// TXPK PULL_RESP 消息中的发送请求
type TXPK struct {
	Imme bool     `json:"imme"`
	Tmst *uint32  `json:"tmst,omitempty"`
	Freq float64  `json:"freq"`
	RFCh int      `json:"rfch"`
	Powe int      `json:"powe"`
	Modu string   `json:"modu"`
	Datr DataRate `json:"datr"`
	Codr string   `json:"codr"`
	IPol bool     `json:"ipol"`
	Size int      `json:"size"`
	Data string   `json:"data"`
}

// NewTXPK 构造立即发送的 LoRa 下行
func NewTXPK(frame []byte, tx models.TXInfo) TXPK {
	codr := tx.CodingRate
	if codr == "" {
		codr = "4/5"
	}
	return TXPK{
		Imme: true,
		Freq: tx.Frequency,
		Powe: tx.Power,
		Modu: "LORA",
		Datr: DataRate(tx.DataRate()),
		Codr: codr,
		IPol: tx.InvertPolarity,
		Size: len(frame),
		Data: base64.StdEncoding.EncodeToString(frame),
	}
}

// PHYPayload 解码 base64 data 字段
func (p TXPK) PHYPayload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

type pullRespPayload struct {
	TXPK TXPK `json:"txpk"`
}
