package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "appwatch/internal/transport"
	logx "appwatch/pkg/logx"
)

func TestSplitTelegramTextShort(t *testing.T) {
	got := splitTelegramText("hello", 10, "HTML")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(s, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTelegramTextKeepsTagsWhole(t *testing.T) {
	s := "abcdef<b>x</b>"
	got := splitTelegramText(s, 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("first chunk = %q, want tag moved to next chunk", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestSplitTelegramTextRunes(t *testing.T) {
	s := strings.Repeat("я", 9000)
	got := splitTelegramText(s, 0, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for _, c := range got {
		if n := len([]rune(c)); n > telegramTextLimit {
			t.Fatalf("chunk too long: %d", n)
		}
	}
}

type sentMessage struct {
	Path      string
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
	ThreadID  string `json:"message_thread_id"`
}

func fakeBotAPI(t *testing.T) (*httptest.Server, func() []sentMessage) {
	t.Helper()
	var (
		mu   sync.Mutex
		sent []sentMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m sentMessage
		_ = json.NewDecoder(r.Body).Decode(&m)
		m.Path = r.URL.Path
		mu.Lock()
		sent = append(sent, m)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []sentMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]sentMessage(nil), sent...)
	}
}

func TestSenderSendsHTML(t *testing.T) {
	srv, sent := fakeBotAPI(t)
	s := NewSender(logx.Nop(), WithAPIURL(srv.URL))

	ep := kit.Endpoint{Name: "alerts", Token: "123:abc", ChatID: -100, ThreadID: 5}
	if err := s.Send(context.Background(), ep, "<b>hi</b>", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := sent()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	m := got[0]
	if m.Path != "/bot123:abc/sendMessage" || m.ChatID != "-100" || m.Text != "<b>hi</b>" || m.ParseMode != "HTML" || m.ThreadID != "5" {
		t.Fatalf("unexpected request: %+v", m)
	}
}

func TestSenderSplitsAndCachesBots(t *testing.T) {
	srv, sent := fakeBotAPI(t)
	s := NewSender(logx.Nop(), WithAPIURL(srv.URL))
	ep := kit.Endpoint{Token: "1:x", ChatID: -100}

	long := strings.Repeat("line\n", 1500)
	if err := s.Send(context.Background(), ep, long, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(context.Background(), ep, "again", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len(sent()); n != 3 {
		t.Fatalf("requests = %d, want 3 (two chunks + one)", n)
	}
	if len(s.bots) != 1 {
		t.Fatalf("bots cached = %d, want 1", len(s.bots))
	}
}

func TestSenderRejectsIncompleteEndpoint(t *testing.T) {
	s := NewSender(logx.Nop())
	if err := s.Send(context.Background(), kit.Endpoint{ChatID: 1}, "x", nil); err == nil {
		t.Fatalf("expected error for missing token")
	}
}
