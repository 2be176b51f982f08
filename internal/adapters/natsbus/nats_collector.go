// Package natsbus collects source values published on NATS subjects.
package natsbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

// Payload codecs accepted as a NATS source's message type.
const (
	CodecJSON = "json"
	CodecYAML = "yaml"
)

type Config struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	MaxReconnects int           `yaml:"max_reconnects"`
	Timeout       time.Duration `yaml:"timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "topic-recorder"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Codec resolves a message type to a payload codec. Empty means JSON.
func Codec(messageType string) (string, bool) {
	switch strings.ToLower(messageType) {
	case "", CodecJSON:
		return CodecJSON, true
	case CodecYAML, "yml":
		return CodecYAML, true
	default:
		return "", false
	}
}

type binding struct {
	key     string
	subject string
	codec   string
}

// Collector holds one subscription per source on a shared connection.
type Collector struct {
	cfg      Config
	obs      ports.Observability
	bindings []binding
	mu       sync.Mutex
	nc       *nats.Conn
	subs     []*nats.Subscription
	cancel   context.CancelFunc
	started  bool
}

func NewCollector(cfg Config, sources []domain.Source, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if len(sources) == 0 {
		return nil, errors.New("nats collector requires at least one source")
	}
	if obs == nil {
		return nil, errors.New("nats collector requires observability")
	}
	bindings := make([]binding, 0, len(sources))
	for _, src := range sources {
		codec, ok := Codec(src.MessageType)
		if !ok {
			return nil, fmt.Errorf("%w: source %q: unresolvable message type %q", domain.ErrInvalidConfig, src.Key, src.MessageType)
		}
		bindings = append(bindings, binding{key: src.Key, subject: src.SubscribeAddress(), codec: codec})
	}
	return &Collector{cfg: cfg, obs: obs, bindings: bindings}, nil
}

func (c *Collector) Name() string { return "nats" }

func (c *Collector) Start(out chan<- *domain.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("nats collector: %w", domain.ErrAlreadyStarted)
	}

	nc, err := nats.Connect(c.cfg.URL, c.connectionOptions()...)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", c.cfg.URL, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	subs := make([]*nats.Subscription, 0, len(c.bindings))
	for _, b := range c.bindings {
		sub, err := nc.Subscribe(b.subject, c.handler(ctx, b, out))
		if err != nil {
			cancel()
			nc.Close()
			return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
		}
		subs = append(subs, sub)
	}
	if err := nc.Flush(); err != nil {
		cancel()
		nc.Close()
		return fmt.Errorf("nats flush: %w", err)
	}

	c.nc = nc
	c.subs = subs
	c.cancel = cancel
	c.started = true
	c.obs.LogInfo("nats collector started",
		ports.Field{Key: "url", Value: c.cfg.URL},
		ports.Field{Key: "subjects", Value: len(subs)})
	return nil
}

// Stop drains the connection. Handlers still running stop forwarding once
// Stop begins, since the update consumer may already be gone.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	nc := c.nc
	cancel := c.cancel
	c.nc = nil
	c.subs = nil
	c.started = false
	c.mu.Unlock()

	cancel()
	done := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(done) })
	err := nc.Drain()
	if err == nil {
		select {
		case <-done:
		case <-time.After(c.cfg.Timeout):
			err = errors.New("nats drain timed out")
			nc.Close()
		}
	} else {
		nc.Close()
	}
	return err
}

func (c *Collector) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.Timeout(c.cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.obs.LogWarn("nats disconnected", ports.Field{Key: "error", Value: err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.obs.LogInfo("nats reconnected", ports.Field{Key: "url", Value: nc.ConnectedUrl()})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []ports.Field{{Key: "error", Value: err.Error()}}
			if sub != nil {
				fields = append(fields, ports.Field{Key: "subject", Value: sub.Subject})
			}
			c.obs.LogWarn("nats async error", fields...)
		}),
	}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}
	return opts
}

func (c *Collector) handler(ctx context.Context, b binding, out chan<- *domain.Update) nats.MsgHandler {
	return func(msg *nats.Msg) {
		value, err := Decode(b.codec, msg.Data)
		if err != nil {
			c.obs.LogWarn("nats payload undecodable",
				ports.Field{Key: "subject", Value: msg.Subject},
				ports.Field{Key: "source", Value: b.key},
				ports.Field{Key: "error", Value: err.Error()})
			return
		}
		select {
		case <-ctx.Done():
		case out <- &domain.Update{Source: b.key, Value: value, ReceivedAt: time.Now()}:
		}
	}
}

// Decode parses a payload into maps, slices and scalars. JSON numbers stay
// json.Number.
func Decode(codec string, data []byte) (any, error) {
	var v any
	switch codec {
	case CodecYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

var _ ports.Collector = (*Collector)(nil)
