package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"appwatch/internal/config"
	"appwatch/internal/notifier"
	kit "appwatch/internal/transport"
	logx "appwatch/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"omitted", nil, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, false},
		{"file default path", &config.StorageConfig{Driver: "file"}, true, false},
		{"sqlite without path", &config.StorageConfig{Driver: "sqlite"}, false, true},
		{"sqlite bad busy", &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, false, true},
		{"postgres without dsn", &config.StorageConfig{Driver: "postgres"}, false, true},
		{"redis", &config.StorageConfig{Driver: "Redis", Addr: "127.0.0.1:6379"}, true, false},
		{"unknown", &config.StorageConfig{Driver: "mongo"}, false, true},
	}
	for _, tc := range cases {
		sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.sc})
		if (err != nil) != tc.wantErr || enabled != tc.enabled {
			t.Fatalf("%s: enabled=%v err=%v", tc.name, enabled, err)
		}
		if tc.name == "file default path" && sc.Path == "" {
			t.Fatalf("file driver without default path")
		}
		if tc.name == "redis" && sc.Driver != "redis" {
			t.Fatalf("driver not normalized: %q", sc.Driver)
		}
	}
}

func TestMapNotifierConfig(t *testing.T) {
	nc, err := mapNotifierConfig(&config.Config{})
	if err != nil || !nc.Enabled {
		t.Fatalf("omitted section: %+v %v", nc, err)
	}
	nc, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Enabled: true, RetryBase: "250ms", DedupWindow: "1m"}})
	if err != nil || nc.RetryBase != 250*time.Millisecond || nc.DedupWindow != time.Minute {
		t.Fatalf("parsed: %+v %v", nc, err)
	}
	if _, err := mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RetryMaxDelay: "x"}}); err == nil {
		t.Fatalf("bad duration accepted")
	}
}

func TestMapHTTPConfigDefaults(t *testing.T) {
	hc, err := mapHTTPConfig(&config.Config{HTTP: &config.HTTPConfig{Enabled: true, Addr: " 127.0.0.1:9000 "}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if hc.Addr != "127.0.0.1:9000" || hc.ReadTimeout != 10*time.Second || hc.WriteTimeout != 10*time.Minute {
		t.Fatalf("http config = %+v", hc)
	}
}

func TestControlPollTimeout(t *testing.T) {
	if got := controlPollTimeout(&config.Config{Interval: 12000}); got != 12*time.Second {
		t.Fatalf("poll timeout = %s", got)
	}
	if got := controlPollTimeout(&config.Config{Interval: 10}); got != time.Second {
		t.Fatalf("poll timeout floor = %s", got)
	}
}

type recordSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordSender) Send(_ context.Context, _ kit.Endpoint, text string, _ *kit.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return r.err
}

func TestSinkSendsDirectlyWhenNotifierDisabled(t *testing.T) {
	rs := &recordSender{}
	n := notifier.New(notifier.Config{Enabled: false}, rs, logx.Nop(), nil)
	s := notifySink{notif: n, sender: rs, log: logx.Nop()}

	if err := s.Notify(context.Background(), kit.Notification{Kind: "new", Text: "hello"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(rs.sent) != 1 || rs.sent[0] != "hello" {
		t.Fatalf("sent = %v", rs.sent)
	}

	rs.err = errors.New("boom")
	if err := s.Notify(context.Background(), kit.Notification{Kind: "new", Text: "again"}); err == nil {
		t.Fatalf("send error swallowed")
	}
}

func TestAppStartStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "groups": [{"name": "G1", "keywords": ["alpha"]}],
  "endpoints": [],
  "auto_start": false,
  "logging": {"level": "error", "console": false, "file": {"enabled": false}},
  "storage": {"driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "state.json")) + `"},
  "http": {"enabled": true, "addr": "127.0.0.1:0"}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.Engine().Running() {
		t.Fatalf("auto_start=false but monitor is running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}
