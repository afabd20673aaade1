package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "appwatch/internal/transport"
	logx "appwatch/pkg/logx"
)

const sendTimeout = 10 * time.Second

// Sender delivers notifications through the Bot API. Endpoints may use
// different bot tokens; one offline bot is cached per token.
type Sender struct {
	log    logx.Logger
	apiURL string
	client *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

type SenderOption func(*Sender)

// WithAPIURL points the sender at a different Bot API server.
func WithAPIURL(u string) SenderOption { return func(s *Sender) { s.apiURL = strings.TrimRight(u, "/") } }

func NewSender(log logx.Logger, opts ...SenderOption) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sender{
		log:    log.With(logx.String("comp", "telegram.sender")),
		client: &http.Client{Timeout: sendTimeout},
		bots:   map[string]*tele.Bot{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sender) bot(token string) (*tele.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     s.apiURL,
		Token:   token,
		Client:  s.client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	s.bots[token] = b
	return b, nil
}

// Send posts text to the endpoint, splitting it when it exceeds the
// Telegram limit. It stops at the first failed chunk.
func (s *Sender) Send(ctx context.Context, to kit.Endpoint, text string, opt *kit.SendOptions) error {
	token := strings.TrimSpace(to.Token)
	if token == "" || to.ChatID == 0 {
		return errors.New("telegram: endpoint has no token or chat")
	}
	if opt == nil {
		opt = &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true}
	}
	b, err := s.bot(token)
	if err != nil {
		return err
	}

	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := b.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
