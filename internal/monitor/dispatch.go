package monitor

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	tele "gopkg.in/telebot.v4"

	"appwatch/internal/catalog"
	"appwatch/internal/config"
	kit "appwatch/internal/transport"
	logx "appwatch/pkg/logx"
)

const timestampLayout = "2006-01-02 15:04:05"

// Notification kinds.
const (
	KindNew    = "new"
	KindUpdate = "update"
	KindExact  = "exact"
	KindError  = "error"
)

// Sink accepts notifications for asynchronous delivery.
type Sink interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Dispatcher renders events as Telegram HTML and routes them to endpoints.
// Delivery is fire-and-forget: a rejected notification is logged and dropped.
type Dispatcher struct {
	sink   Sink
	log    logx.Logger
	policy *bluemonday.Policy
	now    func() time.Time
}

func NewDispatcher(sink Sink, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		sink:   sink,
		log:    log.With(logx.String("comp", "dispatcher")),
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// Target resolves where an event of a group goes: the group's own endpoint
// for that event type, else the first configured endpoint.
func Target(cfg *config.Config, ref *config.EndpointRef) (config.Endpoint, bool) {
	if cfg == nil {
		return config.Endpoint{}, false
	}
	if !ref.IsZero() {
		if ep, err := ref.Resolve(cfg.Endpoints); err == nil {
			return ep, true
		}
	}
	return cfg.DefaultEndpoint()
}

// New sends one message for a first-seen listing.
func (d *Dispatcher) New(ctx context.Context, cfg *config.Config, g config.Group, l catalog.Listing) {
	ts := d.now().Format(timestampLayout)
	text := "📱 <b>Новое приложение обнаружено</b> в группе <b>" + html.EscapeString(g.Name) + "</b> за " + ts + "\n\n" +
		d.listingBlock(l, "")
	d.send(ctx, cfg, g.NotifyNewTarget, KindNew, g.Name, text)
}

// Updates sends one message for the whole update batch.
func (d *Dispatcher) Updates(ctx context.Context, cfg *config.Config, g config.Group, events []UpdateEvent) {
	if len(events) == 0 {
		return
	}
	ts := d.now().Format(timestampLayout)
	var b strings.Builder
	b.WriteString("🔄 <b>Обновления версий в группе '" + html.EscapeString(g.Name) + "' за " + ts + "</b>\n")
	for _, ev := range events {
		b.WriteString("\n" + d.listingBlock(ev.Listing, ev.OldVersion) + "\n")
	}
	d.send(ctx, cfg, g.NotifyUpdateTarget, KindUpdate, g.Name, b.String())
}

// Exact sends one message for the whole exact-match batch.
func (d *Dispatcher) Exact(ctx context.Context, cfg *config.Config, g config.Group, listings []catalog.Listing) {
	if len(listings) == 0 {
		return
	}
	ts := d.now().Format(timestampLayout)
	var b strings.Builder
	b.WriteString("📲 <b>Новые приложения (точное совпадение) в группе '" + html.EscapeString(g.Name) + "' за " + ts + "</b>\n")
	for _, l := range listings {
		b.WriteString("\n" + d.listingBlock(l, "") + "\n")
	}
	d.send(ctx, cfg, g.NotifyExactTarget, KindExact, g.Name, b.String())
}

// Error reports a fault to the error endpoint when error notifications are
// enabled. It does not fall back to the default endpoint.
func (d *Dispatcher) Error(ctx context.Context, cfg *config.Config, msg string) {
	if cfg == nil || !cfg.NotifyErrors || cfg.ErrorEndpoint.IsZero() {
		return
	}
	ep, err := cfg.ErrorEndpoint.Resolve(cfg.Endpoints)
	if err != nil {
		d.log.Warn("error endpoint unresolved", logx.Err(err))
		return
	}
	d.deliver(ctx, ep, KindError, "", "🚨 <b>Ошибка!</b>\n"+html.EscapeString(msg))
}

func (d *Dispatcher) send(ctx context.Context, cfg *config.Config, ref *config.EndpointRef, kind, group, text string) {
	ep, ok := Target(cfg, ref)
	if !ok {
		d.log.Info("no endpoint configured, notification skipped", logx.String("kind", kind), logx.String("group", group))
		return
	}
	d.deliver(ctx, ep, kind, group, text)
}

func (d *Dispatcher) deliver(ctx context.Context, ep config.Endpoint, kind, group, text string) {
	if d.sink == nil {
		return
	}
	err := d.sink.Notify(ctx, kit.Notification{
		Kind:     kind,
		Endpoint: kit.Endpoint{Name: ep.Name, Token: ep.Token, ChatID: ep.ChatID, ThreadID: ep.ThreadID},
		Text:     text,
		Options:  &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true},
	})
	fields := []logx.Field{logx.String("kind", kind), logx.String("endpoint", ep.Name)}
	if group != "" {
		fields = append(fields, logx.String("group", group))
	}
	switch {
	case err == nil:
		d.log.Debug("notification queued", fields...)
	case errors.Is(err, context.Canceled):
	default:
		d.log.Warn("notification not queued", append(fields, logx.Err(err))...)
	}
}

// listingBlock renders the fields a listing has, one per line.
func (d *Dispatcher) listingBlock(l catalog.Listing, oldVersion string) string {
	var lines []string
	add := func(s string) { lines = append(lines, s) }

	if l.Platform != "" {
		add("💻 Платформа: <b>" + html.EscapeString(string(l.Platform)) + "</b>")
	}
	if t := strings.TrimSpace(l.Title); t != "" {
		add("📱 Название: <b>" + html.EscapeString(t) + "</b>")
	}
	if dev := strings.TrimSpace(l.Developer); dev != "" {
		add("👨‍💻 Разработчик: <b>" + html.EscapeString(dev) + "</b>")
	}
	if v := NormalizeVersion(l.Version); v != "" {
		line := "🔢 Версия: <b>" + html.EscapeString(v) + "</b>"
		if old := NormalizeVersion(oldVersion); old != "" {
			line += " (было " + html.EscapeString(old) + ")"
		}
		add(line)
	}
	if r := strings.TrimSpace(l.Rating); r != "" {
		add("⭐ Рейтинг: <b>" + html.EscapeString(r) + "</b>")
	}
	if desc := strings.TrimSpace(d.policy.Sanitize(l.Description)); desc != "" {
		add("📄 Описание: " + desc)
	}
	if u := strings.TrimSpace(l.URL); u != "" {
		add(`🔗 Ссылка: <a href="` + html.EscapeString(u) + `">📥 скачать</a>`)
	}
	return strings.Join(lines, "\n")
}

// NormalizeVersion trims v and strips a leading "версия:" label in any case.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	const label = "версия:"
	if strings.HasPrefix(strings.ToLower(v), label) {
		v = strings.TrimSpace(v[len(label):])
	}
	return v
}
