package integration

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/models"
)

// DefaultTopicPattern is used when MQTTConfig.TopicPattern is empty
const DefaultTopicPattern = "lorawan-tester/{session}/{dev_addr}/{mtype}"

// HTTPConfig configures the webhook
type HTTPConfig struct {
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Endpoint string            `yaml:"endpoint" json:"endpoint"`
	Headers  map[string]string `yaml:"headers" json:"headers"`
	Timeout  time.Duration     `yaml:"timeout" json:"timeout"`
}

// MQTTConfig configures the MQTT publisher
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	BrokerURL    string `yaml:"broker_url" json:"brokerUrl"`
	ClientID     string `yaml:"client_id" json:"clientId"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	TopicPattern string `yaml:"topic_pattern" json:"topicPattern"`
	QoS          byte   `yaml:"qos" json:"qos"`
	TLS          bool   `yaml:"tls" json:"tls"`
}

// Publisher forwards frame records to an external system
type Publisher interface {
	Publish(ctx context.Context, rec *models.FrameRecord) error
}

// Forwarder fans a record out to every configured publisher
type Forwarder struct {
	publishers []Publisher
	closers    []func()
}

// NewForwarder combines publishers
func NewForwarder(publishers ...Publisher) *Forwarder {
	f := &Forwarder{}
	for _, p := range publishers {
		f.Add(p)
	}
	return f
}

// Add appends a publisher
func (f *Forwarder) Add(p Publisher) {
	f.publishers = append(f.publishers, p)
	if c, ok := p.(interface{ Close() }); ok {
		f.closers = append(f.closers, c.Close)
	}
}

// Len returns the number of publishers
func (f *Forwarder) Len() int {
	return len(f.publishers)
}

// Publish sends rec to every publisher and joins their errors
func (f *Forwarder) Publish(ctx context.Context, rec *models.FrameRecord) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the publishers that hold connections
func (f *Forwarder) Close() {
	for _, c := range f.closers {
		c()
	}
}

// HTTPPublisher posts records to a webhook
type HTTPPublisher struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPPublisher creates a webhook publisher
func NewHTTPPublisher(cfg HTTPConfig) *HTTPPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPublisher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Publish posts rec as JSON
func (p *HTTPPublisher) Publish(ctx context.Context, rec *models.FrameRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal frame record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", p.cfg.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s: status %d", p.cfg.Endpoint, resp.StatusCode)
	}

	log.Debug().
		Str("frame", rec.ID.String()).
		Str("endpoint", p.cfg.Endpoint).
		Msg("Frame record forwarded to HTTP")
	return nil
}

// MQTTPublisher publishes records to an MQTT broker
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "lorawan-tester-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.BrokerURL).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.BrokerURL, err)
	}

	return NewMQTTPublisherWithClient(client, cfg), nil
}

// NewMQTTPublisherWithClient uses an existing client
func NewMQTTPublisherWithClient(client mqtt.Client, cfg MQTTConfig) *MQTTPublisher {
	if cfg.TopicPattern == "" {
		cfg.TopicPattern = DefaultTopicPattern
	}
	return &MQTTPublisher{cfg: cfg, client: client}
}

// Topic expands the topic pattern for rec
func (p *MQTTPublisher) Topic(rec *models.FrameRecord) string {
	return strings.NewReplacer(
		"{session}", orUnknown(rec.Session),
		"{dev_addr}", orUnknown(rec.DevAddr),
		"{dev_eui}", orUnknown(rec.DevEUI),
		"{mtype}", orUnknown(rec.MType),
	).Replace(p.cfg.TopicPattern)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Publish publishes rec as JSON
func (p *MQTTPublisher) Publish(ctx context.Context, rec *models.FrameRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal frame record: %w", err)
	}

	topic := p.Topic(rec)
	token := p.client.Publish(topic, p.cfg.QoS, false, body)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	log.Debug().
		Str("frame", rec.ID.String()).
		Str("topic", topic).
		Msg("Frame record forwarded to MQTT")
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// NATSPublisher publishes records on <prefix>.<session>.<mtype>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a NATS publisher; an empty prefix selects
// "tester.frames"
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "tester.frames"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject for rec
func (p *NATSPublisher) Subject(rec *models.FrameRecord) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, orUnknown(rec.Session), orUnknown(rec.MType))
}

// Publish publishes rec as JSON
func (p *NATSPublisher) Publish(ctx context.Context, rec *models.FrameRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal frame record: %w", err)
	}
	if err := p.nc.Publish(p.Subject(rec), body); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(rec), err)
	}
	return nil
}
