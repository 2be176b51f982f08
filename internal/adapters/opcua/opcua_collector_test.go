package opcua

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"

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

func TestNewCollectorValidates(t *testing.T) {
	obs := &stubObs{}
	src := []domain.Source{{Key: "temp", Address: "ns=2;s=Temperature", Transport: domain.TransportOPCUA}}

	if _, err := NewCollector(Config{}, src, obs); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewCollector(Config{Endpoint: "opc.tcp://localhost:4840"}, nil, obs); err == nil {
		t.Fatalf("expected error for no sources")
	}
	bad := []domain.Source{{Key: "temp", Address: "ns=abc;i=1"}}
	if _, err := NewCollector(Config{Endpoint: "opc.tcp://localhost:4840"}, bad, obs); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	c, err := NewCollector(Config{Endpoint: "opc.tcp://localhost:4840"}, src, obs)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if c.cfg.PublishInterval != 250*time.Millisecond || c.cfg.SecurityMode != "None" {
		t.Fatalf("defaults not applied: %+v", c.cfg)
	}
	if c.Name() != "opcua" {
		t.Fatalf("unexpected name %s", c.Name())
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop before start should be a no-op, got %v", err)
	}
}

func TestProcessNotificationEmitsDataValue(t *testing.T) {
	c := &Collector{
		obs:       &stubObs{},
		handleMap: map[uint32]domain.Source{1: {Key: "temp"}},
	}
	srcTS := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	notif := &ua.DataChangeNotification{
		MonitoredItems: []*ua.MonitoredItemNotification{
			{ClientHandle: 1, Value: &ua.DataValue{Value: ua.MustVariant(float64(21.5)), SourceTimestamp: srcTS, Status: ua.StatusOK}},
			{ClientHandle: 9, Value: &ua.DataValue{Value: ua.MustVariant(float64(1))}},
			{ClientHandle: 1, Value: &ua.DataValue{Status: ua.StatusCode(0x80340000)}},
		},
	}

	out := make(chan *domain.Update, 4)
	c.processNotification(context.Background(), notif, out)
	close(out)

	var got []*domain.Update
	for u := range out {
		got = append(got, u)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 updates (unknown handle skipped), got %d", len(got))
	}

	first, ok := got[0].Value.(DataValue)
	if !ok {
		t.Fatalf("expected DataValue, got %T", got[0].Value)
	}
	if got[0].Source != "temp" || first.Value != 21.5 || !first.Good || !first.SourceTimestamp.Equal(srcTS) {
		t.Fatalf("unexpected first update %+v / %+v", got[0], first)
	}

	second := got[1].Value.(DataValue)
	if second.Good || second.Value != nil || second.StatusCode != 0x80340000 {
		t.Fatalf("unexpected bad-status update %+v", second)
	}
}

func TestProcessNotificationIgnoresOtherPayloads(t *testing.T) {
	c := &Collector{obs: &stubObs{}, handleMap: map[uint32]domain.Source{}}
	out := make(chan *domain.Update, 1)
	c.processNotification(context.Background(), &ua.EventNotificationList{}, out)
	if len(out) != 0 {
		t.Fatalf("expected no updates")
	}
}

func TestNormalizeSecurityMode(t *testing.T) {
	cases := map[string]string{
		"":               "None",
		"sign":           "Sign",
		"SignAndEncrypt": "SignAndEncrypt",
		"sign+encrypt":   "SignAndEncrypt",
		"bogus":          "None",
	}
	for in, want := range cases {
		if got := normalizeSecurityMode(in); got != want {
			t.Fatalf("normalizeSecurityMode(%q) = %q, want %q", in, got, want)
		}
	}
}
