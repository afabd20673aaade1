package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "appwatch/pkg/logx"
)

const sampleJSON = `{
  "groups": [
    {"name": "banks", "keywords": ["Sber", "Tinkoff"], "notify_new": true, "notify_update": true, "notify_update_target": "alerts"},
    {"name": "off", "keywords": ["x"], "enabled": false}
  ],
  "endpoints": [
    {"name": "main", "token": "111:aaa", "chat_id": -100},
    {"name": "alerts", "token": "222:bbb", "chat_id": -200, "thread_id": 7}
  ],
  "cycle_interval": 900,
  "proxy": "",
  "platforms": {"rustore": {"enabled": false}}
}`

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	m := NewConfigManager(writeTemp(t, "config.json", sampleJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.CycleInterval != "900" {
		t.Fatalf("CycleInterval = %q, want 900", cfg.CycleInterval)
	}
	if cfg.Interval != DefaultInterval {
		t.Fatalf("Interval = %d, want %d", cfg.Interval, DefaultInterval)
	}
	lo, hi := cfg.Delay()
	if lo != 2*time.Second || hi != 6*time.Second {
		t.Fatalf("Delay = %v..%v, want 2s..6s", lo, hi)
	}
	if cfg.Platforms.RuStore.IsEnabled() {
		t.Fatal("rustore should be disabled")
	}
	if cfg.Platforms.RuStore.MaxResults != DefaultMaxRuStore || cfg.Platforms.GalaxyStore.MaxResults != DefaultMaxGalaxyStore {
		t.Fatalf("unexpected caps: %+v", cfg.Platforms)
	}
	if g, ok := cfg.FindGroup("off"); !ok || g.IsEnabled() {
		t.Fatalf("group off: ok=%v enabled=%v", ok, g.IsEnabled())
	}
	ep, err := cfg.Groups[0].NotifyUpdateTarget.Resolve(cfg.Endpoints)
	if err != nil || ep.ChatID != -200 {
		t.Fatalf("Resolve = %+v, %v", ep, err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewConfigManager(writeTemp(t, "config.json", `{"groups": [], "endpoints": [], "bogus": 1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewConfigManager(writeTemp(t, "config.json", `{"groups": []}{"groups": []}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseYAML(t *testing.T) {
	body := `
groups:
  - name: games
    keywords: [Genshin]
    notify_exact: true
    notify_exact_target: 0
endpoints:
  - name: main
    token: "1:x"
    chat_id: 42
cycle_interval: "*/30 * * * *"
delay_range: [1, 3]
`
	m := NewConfigManager(writeTemp(t, "config.yaml", body))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.CycleInterval != "*/30 * * * *" {
		t.Fatalf("CycleInterval = %q", cfg.CycleInterval)
	}
	if got := cfg.Groups[0].NotifyExactTarget.String(); got != "#0" {
		t.Fatalf("target = %s, want #0", got)
	}
}

func TestValidateRejectsBadTargets(t *testing.T) {
	cfg := &Config{
		Groups:    []Group{{Name: "a", NotifyNew: true, NotifyNewTarget: RefIndex(3)}},
		Endpoints: []Endpoint{{Name: "main", Token: "t", ChatID: 1}},
	}
	err := Validate(cfg)
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("err = %v, want ErrUnknownEndpoint", err)
	}

	cfg.Groups[0].NotifyNewTarget = RefName("MAIN")
	if err := Validate(cfg); err != nil {
		t.Fatalf("name lookup should be case-insensitive: %v", err)
	}
}

func TestEmptyEndpointRefIsAbsent(t *testing.T) {
	body := `{
  "groups": [{"name": "g", "keywords": ["k"], "notify_new": true, "notify_new_target": ""}],
  "endpoints": [{"name": "main", "token": "111:aaa", "chat_id": -100}],
  "notify_errors": true,
  "error_endpoint": ""
}`
	cfg, err := NewConfigManager(writeTemp(t, "config.json", body)).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ErrorEndpoint != nil || cfg.Groups[0].NotifyNewTarget != nil {
		t.Fatalf("empty refs kept: error=%v new=%v", cfg.ErrorEndpoint, cfg.Groups[0].NotifyNewTarget)
	}

	var r EndpointRef
	if err := r.UnmarshalJSON([]byte(`""`)); err != nil || !r.IsZero() {
		t.Fatalf("unmarshal \"\" = %+v (%v), want zero", r, err)
	}
	if err := r.UnmarshalJSON([]byte(`"0"`)); err != nil || r.IsZero() {
		t.Fatalf("unmarshal \"0\" = %+v (%v), want index 0", r, err)
	}
}

func TestValidateRejectsDuplicateGroups(t *testing.T) {
	cfg := &Config{Groups: []Group{{Name: "a"}, {Name: "a"}}}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "not unique") {
		t.Fatalf("err = %v", err)
	}
}

func TestDelaySwapsReversedRange(t *testing.T) {
	cfg := &Config{DelayRange: []float64{5, 1.5}}
	lo, hi := cfg.Delay()
	if lo != 1500*time.Millisecond || hi != 5*time.Second {
		t.Fatalf("Delay = %v..%v", lo, hi)
	}
}

func TestSaveRoundTripsAndPublishes(t *testing.T) {
	path := writeTemp(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := *cfg
	next.Proxy = "http://127.0.0.1:3128"
	if err := m.Save(context.Background(), &next); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	select {
	case got := <-ch:
		if got.Proxy != next.Proxy {
			t.Fatalf("published proxy = %q", got.Proxy)
		}
	default:
		t.Fatal("expected a published config")
	}

	again, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("re-parse error: %v", err)
	}
	if again.Proxy != next.Proxy || again.CycleInterval != "900" {
		t.Fatalf("saved config = proxy %q interval %q", again.Proxy, again.CycleInterval)
	}
	if ref := again.Groups[0].NotifyUpdateTarget; ref == nil || ref.Name != "alerts" {
		t.Fatalf("target lost on save: %+v", ref)
	}
}

func TestSaveRejectedByValidator(t *testing.T) {
	path := writeTemp(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if err := m.Save(context.Background(), cfg); err == nil {
		t.Fatal("expected validator error")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{
		Groups:    []Group{{Name: "a", Keywords: []string{"x"}}, {Name: "b"}},
		Endpoints: []Endpoint{{Name: "main", Token: "secret", ChatID: 1}},
	}
	next := &Config{
		Groups:    []Group{{Name: "a", Keywords: []string{"x", "y"}}, {Name: "c"}},
		Endpoints: []Endpoint{{Name: "main", Token: "secret", ChatID: 1}},
		Proxy:     "socks5://u:p@host:1080",
	}
	sections, attrs, groups := SummarizeConfigChange(old, next)
	if strings.Join(sections, ",") != "groups,proxy" {
		t.Fatalf("sections = %v", sections)
	}
	if strings.Join(groups, ",") != "a,b,c" {
		t.Fatalf("groups = %v", groups)
	}
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	if strings.Contains(buf.String(), "u:p@") || strings.Contains(buf.String(), "secret") {
		t.Fatalf("secrets leaked: %s", buf.String())
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"1500ms", 1500 * time.Millisecond, false},
		{"30", 30 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %s, %v", tc.raw, got, err)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", 7*time.Second); d != 7*time.Second {
		t.Fatalf("default not applied: %s", d)
	}
}
