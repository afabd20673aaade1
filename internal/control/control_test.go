package control

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"appwatch/internal/catalog"
	"appwatch/internal/config"
	"appwatch/internal/monitor"
	rtsup "appwatch/internal/runtime/supervisor"
	"appwatch/internal/status"
	"appwatch/internal/storage"
	kit "appwatch/internal/transport"
	"appwatch/internal/transport/telegram/router"
	logx "appwatch/pkg/logx"
)

const owner = 42

type fakeMonitor struct {
	mu      sync.Mutex
	running bool
	scanned []string
}

func (f *fakeMonitor) Start(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *fakeMonitor) Stop(time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return true
}

func (f *fakeMonitor) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeMonitor) State() monitor.State {
	if f.Running() {
		return monitor.Running
	}
	return monitor.Idle
}

func (f *fakeMonitor) ScanGroup(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, name)
	return nil
}

func (f *fakeMonitor) Stats() storage.GlobalStats {
	s := storage.NewGlobalStats()
	s.PerPlatform[catalog.GooglePlay] = 3
	s.New = 3
	s.Normalize()
	return s
}

func (f *fakeMonitor) Guards() rtsup.Snapshot { return rtsup.Snapshot{} }

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Get() *config.Config { return s.cfg }

type chatAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *chatAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *chatAdapter) Stop(context.Context) error                     { return nil }

func (a *chatAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *chatAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *chatAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

type harness struct {
	t       *testing.T
	mon     *fakeMonitor
	tracker *status.Tracker
	chat    *chatAdapter
	updates chan kit.Update
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	off := false
	cfg := &config.Config{Groups: []config.Group{
		{Name: "G1", Keywords: []string{"alpha", "beta"}, NotifyNew: true, NotifyUpdate: true},
		{Name: "G2", Keywords: []string{"gamma"}, Enabled: &off},
	}}
	h := &harness{
		t:       t,
		mon:     &fakeMonitor{},
		tracker: status.NewTracker(),
		chat:    &chatAdapter{},
		updates: make(chan kit.Update, 8),
	}
	r := router.New(logx.Nop(), h.chat, []int64{owner})
	r.SetCommands(context.Background(), Commands(Deps{
		Monitor: h.mon,
		Tracker: h.tracker,
		Config:  staticConfig{cfg},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, h.updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// send delivers text from the owner and waits for want more replies.
func (h *harness) send(text string, want int) string {
	h.t.Helper()
	before := h.chat.count()
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: owner, Text: text}}
	deadline := time.Now().Add(2 * time.Second)
	for h.chat.count() < before+want {
		if time.Now().After(deadline) {
			h.t.Fatalf("%s: got %d replies, want %d", text, h.chat.count()-before, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return h.chat.last()
}

func TestStartStopCommands(t *testing.T) {
	h := newHarness(t)

	if got := h.send("/startmon", 1); got != "Мониторинг запущен" {
		t.Fatalf("startmon = %q", got)
	}
	if got := h.send("/startmon", 1); got != "Мониторинг уже запущен" {
		t.Fatalf("second startmon = %q", got)
	}
	if got := h.send("/status", 1); !strings.Contains(got, "running") {
		t.Fatalf("status = %q", got)
	}
	if got := h.send("/stopmon", 1); got != "Мониторинг остановлен" {
		t.Fatalf("stopmon = %q", got)
	}
	if got := h.send("/stopmon", 1); got != "Мониторинг не запущен" {
		t.Fatalf("second stopmon = %q", got)
	}
}

func TestScanCommand(t *testing.T) {
	h := newHarness(t)

	if got := h.send("/scan", 1); !strings.HasPrefix(got, "Использование") {
		t.Fatalf("scan without args = %q", got)
	}
	if got := h.send("/scan nope", 1); got != "Группа не найдена: nope" {
		t.Fatalf("unknown = %q", got)
	}
	if got := h.send("/scan G2", 1); got != "Группа отключена: G2" {
		t.Fatalf("disabled = %q", got)
	}
	if got := h.send("/scan G1", 2); got != "Сканирование группы G1 завершено" {
		t.Fatalf("scan = %q", got)
	}
	h.mon.mu.Lock()
	scanned := append([]string(nil), h.mon.scanned...)
	h.mon.mu.Unlock()
	if len(scanned) != 1 || scanned[0] != "G1" {
		t.Fatalf("scanned = %v", scanned)
	}

	h.send("/startmon", 1)
	if got := h.send("/scan G1", 1); !strings.HasPrefix(got, "Мониторинг запущен,") {
		t.Fatalf("scan while running = %q", got)
	}
}

func TestStatsAndGroups(t *testing.T) {
	h := newHarness(t)
	h.tracker.Observer().OnStats(monitor.NewSession("G1", monitor.SweepCounts{catalog.RuStore: 2}), storage.NewGlobalStats())

	got := h.send("/stats", 1)
	for _, want := range []string{"Google Play: 3", "Всего: 3", "Новых: 3", "Последний проход</b> (G1)", "RuStore: 2"} {
		if !strings.Contains(got, want) {
			t.Fatalf("stats missing %q:\n%s", want, got)
		}
	}

	got = h.send("/groups", 1)
	if !strings.Contains(got, "✅ <b>G1</b> (2 кл.): новые, обновления") || !strings.Contains(got, "⏸ <b>G2</b>") {
		t.Fatalf("groups = %q", got)
	}
}

func TestCommandsAreOwnerOnly(t *testing.T) {
	for _, c := range Commands(Deps{}) {
		if c.Access != router.AccessOwnerOnly {
			t.Fatalf("%s is not owner-only", c.Name)
		}
	}
}
