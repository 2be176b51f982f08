package natsbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AUVSL/rosbag-to-csv/internal/domain"
	"github.com/AUVSL/rosbag-to-csv/internal/ports"
)

type stubObs struct{ warns []string }

func (s *stubObs) LogDebug(string, ...ports.Field)           {}
func (s *stubObs) LogInfo(string, ...ports.Field)            {}
func (s *stubObs) LogWarn(msg string, _ ...ports.Field)      { s.warns = append(s.warns, msg) }
func (s *stubObs) LogError(string, error, ...ports.Field)    {}
func (s *stubObs) LogCritical(string, error, ...ports.Field) {}
func (s *stubObs) IncCounter(string, float64)                {}
func (s *stubObs) ObserveLatency(string, float64)            {}
func (s *stubObs) SetGauge(string, float64)                  {}

func TestCodec(t *testing.T) {
	for in, want := range map[string]string{"": CodecJSON, "JSON": CodecJSON, "yaml": CodecYAML, "yml": CodecYAML} {
		got, ok := Codec(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := Codec("protobuf")
	assert.False(t, ok)
}

func TestNewCollector(t *testing.T) {
	_, err := NewCollector(Config{}, []domain.Source{{Key: "a", MessageType: "avro"}}, &stubObs{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewCollector(Config{}, nil, &stubObs{})
	assert.Error(t, err)

	c, err := NewCollector(Config{}, []domain.Source{
		{Key: "telemetry", Address: "robot.telemetry"},
		{Key: "status", MessageType: "yaml"},
	}, &stubObs{})
	require.NoError(t, err)
	assert.Equal(t, nats.DefaultURL, c.cfg.URL)
	assert.Equal(t, "robot.telemetry", c.bindings[0].subject)
	assert.Equal(t, "status", c.bindings[1].subject)
	assert.Equal(t, CodecYAML, c.bindings[1].codec)
	assert.NoError(t, c.Stop())
}

func TestDecode(t *testing.T) {
	v, err := Decode(CodecJSON, []byte(`{"pose":{"x":1.5}}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1.5"), v.(map[string]any)["pose"].(map[string]any)["x"])

	v, err = Decode(CodecYAML, []byte("pose:\n  x: 2\n  ok: true\n"))
	require.NoError(t, err)
	pose := v.(map[string]any)["pose"].(map[string]any)
	assert.Equal(t, 2, pose["x"])
	assert.Equal(t, true, pose["ok"])

	_, err = Decode(CodecJSON, []byte(`{`))
	assert.Error(t, err)
}

func TestHandlerForwardsDecodedPayload(t *testing.T) {
	obs := &stubObs{}
	c := &Collector{obs: obs}
	out := make(chan *domain.Update, 2)
	h := c.handler(context.Background(), binding{key: "telemetry", subject: "robot.telemetry", codec: CodecJSON}, out)

	h(&nats.Msg{Subject: "robot.telemetry", Data: []byte(`{"speed":3}`)})
	h(&nats.Msg{Subject: "robot.telemetry", Data: []byte(`garbage`)})

	require.Len(t, out, 1)
	u := <-out
	assert.Equal(t, "telemetry", u.Source)
	assert.Equal(t, map[string]any{"speed": json.Number("3")}, u.Value)
	assert.Equal(t, []string{"nats payload undecodable"}, obs.warns)
}

func TestHandlerStopsOnCancelledContext(t *testing.T) {
	c := &Collector{obs: &stubObs{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan *domain.Update)
	h := c.handler(ctx, binding{key: "k", codec: CodecJSON}, out)

	h(&nats.Msg{Data: []byte(`1`)})
}
