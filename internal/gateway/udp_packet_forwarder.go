package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

const (
	gatewayTimeout = 5 * time.Minute
	frameBuffer    = 64
)

// ErrNoGateway 尚无网关发送 PULL_DATA 时由 Send 返回
var ErrNoGateway = errors.New("no gateway with a downlink path")

// UDPForwarder 实现 Semtech UDP 包转发协议。收到的帧通过 Next 取出，
// 传给 Send 的帧以 PULL_RESP 下发。
type UDPForwarder struct {
	conn      *net.UDPConn
	txInfo    models.TXInfo
	gatewayID string

	frames    chan models.CapturedFrame
	closeOnce sync.Once
	done      chan struct{}

	mu       sync.RWMutex
	gateways map[string]*GatewayInfo
	lastPull string
}

// GatewayInfo 网关信息
type GatewayInfo struct {
	GatewayID      string
	PushAddr       *net.UDPAddr // PUSH_DATA 地址（上行）
	PullAddr       *net.UDPAddr // PULL_DATA 地址（下行）
	LastSeen       time.Time
	PullTokenBytes [2]byte
}

// NewUDPForwarder 监听 bindAddr。tx 为下行射频参数；gatewayID 指定下行网关，
// 为空时使用最近发送 PULL_DATA 的网关。
func NewUDPForwarder(bindAddr string, tx models.TXInfo, gatewayID string) (*UDPForwarder, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", bindAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bindAddr, err)
	}

	return &UDPForwarder{
		conn:      conn,
		txInfo:    tx,
		gatewayID: gatewayID,
		frames:    make(chan models.CapturedFrame, frameBuffer),
		done:      make(chan struct{}),
		gateways:  make(map[string]*GatewayInfo),
	}, nil
}

// Addr 返回本地监听地址
func (u *UDPForwarder) Addr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Serve 持续读取数据包，直到 ctx 取消或转发器关闭
func (u *UDPForwarder) Serve(ctx context.Context) error {
	log.Info().Str("addr", u.conn.LocalAddr().String()).Msg("Gateway UDP 服务器启动")

	go func() {
		select {
		case <-ctx.Done():
			u.Close()
		case <-u.done:
		}
	}()
	go u.cleanupGateways(ctx)

	buf := make([]byte, 65507)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.done:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			default:
			}
			log.Error().Err(err).Msg("读取 UDP 包错误")
			continue
		}
		u.handlePacket(buf[:n], addr)
	}
}

// Next 返回下一个收到的帧，转发器关闭后返回 io.EOF
func (u *UDPForwarder) Next(ctx context.Context) (models.CapturedFrame, error) {
	select {
	case <-ctx.Done():
		return models.CapturedFrame{}, ctx.Err()
	case f := <-u.frames:
		return f, nil
	case <-u.done:
		return models.CapturedFrame{}, io.EOF
	}
}

// Close 停止转发器
func (u *UDPForwarder) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		err = u.conn.Close()
	})
	return err
}

func (u *UDPForwarder) handlePacket(data []byte, addr *net.UDPAddr) {
	hdr, err := parseHeader(data)
	if err != nil {
		return
	}

	if hdr.Version != 1 && hdr.Version != ProtocolVersion {
		log.Warn().
			Uint8("version", hdr.Version).
			Str("addr", addr.String()).
			Msg("不支持的协议版本")
		return
	}

	switch hdr.Identifier {
	case PushData:
		u.handlePushData(data, addr, hdr)
	case PullData:
		u.handlePullData(data, addr, hdr)
	case TxAck:
		u.handleTxAck(data, hdr)
	default:
		log.Warn().
			Uint8("type", hdr.Identifier).
			Str("addr", addr.String()).
			Msg("未知的包类型")
	}
}

func (u *UDPForwarder) touch(gatewayID string) *GatewayInfo {
	gw, ok := u.gateways[gatewayID]
	if !ok {
		gw = &GatewayInfo{GatewayID: gatewayID}
		u.gateways[gatewayID] = gw
	}
	gw.LastSeen = time.Now()
	return gw
}

func (u *UDPForwarder) handlePushData(data []byte, addr *net.UDPAddr, hdr packetHeader) {
	gatewayID, err := gatewayIDOf(data)
	if err != nil {
		return
	}

	u.mu.Lock()
	u.touch(gatewayID).PushAddr = addr
	u.mu.Unlock()

	if _, err := u.conn.WriteToUDP(hdr.ack(PushAck), addr); err != nil {
		log.Warn().Err(err).Str("gateway", gatewayID).Msg("发送 PUSH_ACK 失败")
	}

	if len(data) <= 12 {
		return
	}

	var payload pushDataPayload
	if err := json.Unmarshal(data[12:], &payload); err != nil {
		log.Error().Err(err).Str("gateway", gatewayID).Msg("解析 PUSH_DATA JSON 失败")
		return
	}

	for _, pk := range payload.RXPK {
		if pk.Stat < 0 {
			log.Debug().Str("gateway", gatewayID).Int("stat", pk.Stat).Msg("CRC 错误，丢弃数据包")
			continue
		}
		f, err := pk.CapturedFrame(gatewayID)
		if err != nil {
			log.Warn().Err(err).Str("gateway", gatewayID).Msg("无效的 rxpk")
			continue
		}

		log.Info().
			Str("gateway", gatewayID).
			Float64("freq", pk.Freq).
			Int("rssi", pk.RSSI).
			Float64("snr", pk.LSNR).
			Int("size", len(f.PHYPayload)).
			Msg("收到上行数据")

		select {
		case u.frames <- f:
		default:
			log.Warn().Str("gateway", gatewayID).Msg("帧缓冲区已满，丢弃上行数据")
		}
	}

	if payload.Stat != nil {
		log.Debug().
			Str("gateway", gatewayID).
			Interface("stat", payload.Stat).
			Msg("收到网关状态")
	}
}

func (u *UDPForwarder) handlePullData(data []byte, addr *net.UDPAddr, hdr packetHeader) {
	gatewayID, err := gatewayIDOf(data)
	if err != nil {
		return
	}

	u.mu.Lock()
	gw := u.touch(gatewayID)
	gw.PullAddr = addr
	gw.PullTokenBytes = [2]byte{data[1], data[2]}
	u.lastPull = gatewayID
	u.mu.Unlock()

	if _, err := u.conn.WriteToUDP(hdr.ack(PullAck), addr); err != nil {
		log.Warn().Err(err).Str("gateway", gatewayID).Msg("发送 PULL_ACK 失败")
	}

	log.Debug().
		Str("gateway", gatewayID).
		Str("pullAddr", addr.String()).
		Msg("收到 PULL_DATA，更新下行地址")
}

func (u *UDPForwarder) handleTxAck(data []byte, hdr packetHeader) {
	gatewayID, err := gatewayIDOf(data)
	if err != nil {
		return
	}

	ev := log.Debug()
	if len(data) > 12 {
		var ack map[string]any
		if err := json.Unmarshal(data[12:], &ack); err == nil {
			ev = ev.Interface("ack", ack)
		}
	}
	ev.Str("gateway", gatewayID).Uint16("token", hdr.Token).Msg("收到 TX_ACK")
}

// Send 通过选定的网关发送帧
func (u *UDPForwarder) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.mu.RLock()
	id := u.gatewayID
	if id == "" {
		id = u.lastPull
	}
	gw, ok := u.gateways[id]
	var addr *net.UDPAddr
	var token [2]byte
	if ok {
		addr, token = gw.PullAddr, gw.PullTokenBytes
	}
	u.mu.RUnlock()

	if addr == nil {
		return ErrNoGateway
	}

	body, err := json.Marshal(pullRespPayload{TXPK: NewTXPK(frame, u.txInfo)})
	if err != nil {
		return fmt.Errorf("marshal txpk: %w", err)
	}

	resp := make([]byte, 0, 4+len(body))
	resp = append(resp, ProtocolVersion, token[0], token[1], PullResp)
	resp = append(resp, body...)

	if _, err := u.conn.WriteToUDP(resp, addr); err != nil {
		return fmt.Errorf("send PULL_RESP to %s: %w", id, err)
	}

	log.Info().
		Str("gateway", id).
		Str("pullAddr", addr.String()).
		Int("size", len(frame)).
		Float64("freq", u.txInfo.Frequency).
		Str("datr", u.txInfo.DataRate()).
		Msg("PULL_RESP 已发送")
	return nil
}

// Gateways 返回已知网关的快照
func (u *UDPForwarder) Gateways() []GatewayInfo {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]GatewayInfo, 0, len(u.gateways))
	for _, gw := range u.gateways {
		out = append(out, *gw)
	}
	return out
}

// cleanupGateways 清理离线网关
func (u *UDPForwarder) cleanupGateways(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.done:
			return
		case <-ticker.C:
			u.prune(time.Now())
		}
	}
}

func (u *UDPForwarder) prune(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for id, gw := range u.gateways {
		if now.Sub(gw.LastSeen) > gatewayTimeout {
			delete(u.gateways, id)
			if u.lastPull == id {
				u.lastPull = ""
			}
			log.Info().Str("gateway", id).Msg("网关离线，清理缓存")
		}
	}
}
