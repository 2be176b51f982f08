// Package rosbridge subscribes to ROS topics through a rosbridge v2 websocket
// server and forwards every published message as a source update.
package rosbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

type Config struct {
	URL              string        `yaml:"url"`
	ThrottleRate     int           `yaml:"throttle_rate"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = "ws://localhost:9090"
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ThrottleRate < 0 {
		c.ThrottleRate = 0
	}
}

var messageTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*/(msg/)?[A-Za-z][A-Za-z0-9_]*$`)

// ValidMessageType reports whether t names a ROS interface, either
// "pkg/msg/Type" or the short "pkg/Type" form.
func ValidMessageType(t string) bool { return messageTypePattern.MatchString(t) }

type subscribeOp struct {
	Op           string `json:"op"`
	ID           string `json:"id,omitempty"`
	Topic        string `json:"topic"`
	Type         string `json:"type,omitempty"`
	ThrottleRate int    `json:"throttle_rate,omitempty"`
	QueueLength  int    `json:"queue_length"`
}

type envelope struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Msg   json.RawMessage `json:"msg"`
	Level string          `json:"level"`
}

// Collector keeps one websocket to rosbridge and reconnects when it drops.
type Collector struct {
	cfg     Config
	obs     ports.Observability
	ops     []subscribeOp
	topics  map[string][]string
	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewCollector(cfg Config, sources []domain.Source, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if len(sources) == 0 {
		return nil, errors.New("rosbridge collector requires at least one source")
	}
	if obs == nil {
		return nil, errors.New("rosbridge collector requires observability")
	}

	topics := make(map[string][]string, len(sources))
	var ops []subscribeOp
	for _, src := range sources {
		if !ValidMessageType(src.MessageType) {
			return nil, fmt.Errorf("%w: source %q: unresolvable message type %q", domain.ErrInvalidConfig, src.Key, src.MessageType)
		}
		topic := src.SubscribeAddress()
		if _, seen := topics[topic]; !seen {
			ops = append(ops, subscribeOp{
				Op:           "subscribe",
				ID:           "subscribe:" + topic,
				Topic:        topic,
				Type:         src.MessageType,
				ThrottleRate: cfg.ThrottleRate,
				QueueLength:  1,
			})
		}
		topics[topic] = append(topics[topic], src.Key)
	}

	return &Collector{cfg: cfg, obs: obs, ops: ops, topics: topics}, nil
}

func (c *Collector) Name() string { return "rosbridge" }

// Topics lists the subscribed topic names.
func (c *Collector) Topics() []string {
	return lo.Map(c.ops, func(op subscribeOp, _ int) string { return op.Topic })
}

// Start dials once so a wrong URL fails fast; later disconnects are retried.
func (c *Collector) Start(out chan<- *domain.Update) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("rosbridge collector: %w", domain.ErrAlreadyStarted)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		cancel()
		c.started = false
		c.cancel = nil
		c.mu.Unlock()
		return err
	}

	c.obs.LogInfo("rosbridge collector started",
		ports.Field{Key: "url", Value: c.cfg.URL},
		ports.Field{Key: "topics", Value: len(c.ops)})

	c.wg.Add(1)
	go c.run(ctx, conn, out)
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.started = false
	c.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Collector) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("rosbridge dial %s: %w", c.cfg.URL, err)
	}
	for _, op := range c.ops {
		if err := conn.WriteJSON(op); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("rosbridge subscribe %s: %w", op.Topic, err)
		}
	}
	return conn, nil
}

// attach publishes conn for Stop. It refuses once Stop has cancelled ctx so
// a late reconnect cannot leave a read blocked forever.
func (c *Collector) attach(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	c.conn = conn
	return true
}

func (c *Collector) run(ctx context.Context, conn *websocket.Conn, out chan<- *domain.Update) {
	defer c.wg.Done()

	for {
		if !c.attach(ctx, conn) {
			return
		}
		err := c.readLoop(ctx, conn, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.obs.LogWarn("rosbridge connection lost",
			ports.Field{Key: "url", Value: c.cfg.URL},
			ports.Field{Key: "error", Value: err.Error()})

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (c *Collector) reconnect(ctx context.Context) *websocket.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
		conn, err := c.connect(ctx)
		if err == nil {
			c.obs.LogInfo("rosbridge reconnected", ports.Field{Key: "url", Value: c.cfg.URL})
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.obs.LogWarn("rosbridge reconnect failed", ports.Field{Key: "error", Value: err.Error()})
	}
}

func (c *Collector) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- *domain.Update) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(ctx, message, out)
	}
}

func (c *Collector) handleMessage(ctx context.Context, raw []byte, out chan<- *domain.Update) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.obs.LogWarn("rosbridge message undecodable", ports.Field{Key: "error", Value: err.Error()})
		return
	}

	switch env.Op {
	case "publish":
	case "status":
		c.obs.LogWarn("rosbridge status",
			ports.Field{Key: "level", Value: env.Level},
			ports.Field{Key: "msg", Value: string(env.Msg)})
		return
	default:
		return
	}

	keys, ok := c.topics[env.Topic]
	if !ok {
		return
	}
	value, err := decodeMessage(env.Msg)
	if err != nil {
		c.obs.LogWarn("rosbridge payload undecodable",
			ports.Field{Key: "topic", Value: env.Topic},
			ports.Field{Key: "error", Value: err.Error()})
		return
	}

	now := time.Now()
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return
		case out <- &domain.Update{Source: key, Value: value, ReceivedAt: now}:
		}
	}
}

// decodeMessage keeps numbers as json.Number so integers wider than 2^53
// survive until export.
func decodeMessage(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

var _ ports.Collector = (*Collector)(nil)
