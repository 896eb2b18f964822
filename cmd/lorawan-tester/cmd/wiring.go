package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/capture"
	"github.com/lorawan-server/lorawan-tester/internal/config"
	"github.com/lorawan-server/lorawan-tester/internal/gateway"
	"github.com/lorawan-server/lorawan-tester/internal/integration"
	"github.com/lorawan-server/lorawan-tester/internal/metrics"
	"github.com/lorawan-server/lorawan-tester/internal/session"
	"github.com/lorawan-server/lorawan-tester/internal/storage"
	"github.com/lorawan-server/lorawan-tester/internal/transmit"
)

// openStore opens the configured session backend
func openStore(ctx context.Context, c *config.Config) (storage.Store, error) {
	switch c.Session.Backend {
	case config.BackendFile:
		return storage.NewFileStore(c.Session.Dir)
	case config.BackendMemory:
		log.Warn().Msg("Memory session backend, sessions are lost on exit")
		return storage.NewMemoryStore(), nil
	case config.BackendPostgres:
		return storage.NewPostgresStore(ctx, c.Database.DSN)
	case config.BackendRedis:
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		})
	}
	return nil, fmt.Errorf("unknown session backend %q", c.Session.Backend)
}

// openSessions opens the store and wraps it in a manager. The returned
// store must be closed by the caller.
func openSessions(ctx context.Context) (*session.Manager, storage.Store, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return session.NewManager(store), store, nil
}

// connectNATS connects to the configured NATS server
func connectNATS(c *config.Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(c.NATS.ClientID),
		nats.ReconnectWait(c.NATS.ReconnectInterval),
		nats.MaxReconnects(c.NATS.MaxReconnects),
	}
	if c.NATS.Username != "" {
		opts = append(opts, nats.UserInfo(c.NATS.Username, c.NATS.Password))
	}

	nc, err := nats.Connect(c.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", c.NATS.URL, err)
	}
	log.Info().Str("url", c.NATS.URL).Msg("Connected to NATS")
	return nc, nil
}

// radio holds the lazily created transports shared by sources and sinks
type radio struct {
	nc  *nats.Conn
	udp *gateway.UDPForwarder

	cancel context.CancelFunc
}

func (r *radio) nats() (*nats.Conn, error) {
	if r.nc != nil {
		return r.nc, nil
	}
	nc, err := connectNATS(cfg)
	if err != nil {
		return nil, err
	}
	r.nc = nc
	return nc, nil
}

// gateway starts the Semtech UDP listener on first use
func (r *radio) gateway(ctx context.Context) (*gateway.UDPForwarder, error) {
	if r.udp != nil {
		return r.udp, nil
	}
	fwd, err := gateway.NewUDPForwarder(cfg.Gateway.UDPBind, cfg.Transmitter.TXInfo, cfg.Gateway.GatewayID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		if err := fwd.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("UDP forwarder stopped")
		}
	}()
	r.udp, r.cancel = fwd, cancel
	return fwd, nil
}

func (r *radio) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.udp != nil {
		r.udp.Close()
	}
	if r.nc != nil {
		r.nc.Close()
	}
}

// source opens the capture source named by kind
func (r *radio) source(ctx context.Context, kind, file string) (capture.Source, error) {
	switch kind {
	case config.SourceFile:
		if file == "" {
			file = cfg.Capture.File
		}
		if file == "" {
			return nil, fmt.Errorf("no capture file given")
		}
		return capture.OpenHexFile(file, cfg.Capture.HexFile)
	case config.SourceUDP:
		return r.gateway(ctx)
	case config.SourceNATS:
		nc, err := r.nats()
		if err != nil {
			return nil, err
		}
		return capture.NewNATSSource(nc, cfg.Capture.NATSSubject)
	}
	return nil, fmt.Errorf("unknown capture source %q", kind)
}

// sink opens the configured transmission sink
func (r *radio) sink(ctx context.Context, m *metrics.Metrics) (*transmit.CountingSink, error) {
	var s transmit.Sink
	switch name := cfg.Transmitter.Sink; name {
	case config.SinkStdout:
		s = transmit.NewWriterSink(os.Stdout)
	case config.SinkFile:
		f, err := os.OpenFile(cfg.Transmitter.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open transmit file: %w", err)
		}
		s = transmit.NewWriterSink(f)
	case config.SinkUDP:
		fwd, err := r.gateway(ctx)
		if err != nil {
			return nil, err
		}
		s = fwd
	case config.SinkNATS:
		nc, err := r.nats()
		if err != nil {
			return nil, err
		}
		ns, err := transmit.NewNATSSink(nc, cfg.Gateway.GatewayID, cfg.Transmitter.TXInfo)
		if err != nil {
			return nil, err
		}
		s = ns
	default:
		return nil, fmt.Errorf("unknown transmitter sink %q", name)
	}
	return transmit.NewCountingSink(cfg.Transmitter.Sink, s, m), nil
}

// waitForGateway blocks until a packet forwarder has sent PULL_DATA, which
// is needed before the UDP sink can send
func waitForGateway(ctx context.Context, fwd *gateway.UDPForwarder, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, gw := range fwd.Gateways() {
			if gw.PullAddr != nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no gateway pulled within %s: %w", timeout, gateway.ErrNoGateway)
		case <-ticker.C:
		}
	}
}

// publishers builds the configured record forwarders
func (r *radio) publishers() (*integration.Forwarder, error) {
	fwd := integration.NewForwarder()

	if cfg.Integration.HTTP.Enabled {
		fwd.Add(integration.NewHTTPPublisher(cfg.Integration.HTTP))
	}
	if cfg.Integration.MQTT.Enabled {
		p, err := integration.NewMQTTPublisher(cfg.Integration.MQTT)
		if err != nil {
			fwd.Close()
			return nil, err
		}
		fwd.Add(p)
	}
	if cfg.Integration.NATS.Enabled {
		nc, err := r.nats()
		if err != nil {
			fwd.Close()
			return nil, err
		}
		fwd.Add(integration.NewNATSPublisher(nc, cfg.Integration.NATS.Prefix))
	}
	return fwd, nil
}
