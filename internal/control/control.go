// Package control is the owner-only Telegram command surface of the monitor.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appwatch/internal/catalog"
	"appwatch/internal/config"
	"appwatch/internal/monitor"
	rtsup "appwatch/internal/runtime/supervisor"
	"appwatch/internal/status"
	"appwatch/internal/transport/telegram/router"
	logx "appwatch/pkg/logx"
	"appwatch/pkg/tgui"
)

const logLineRunes = 200

type Deps struct {
	Monitor status.Monitor
	Tracker *status.Tracker
	Config  monitor.ConfigSource
	Log     logx.Logger

	// Base outlives command timeouts; the loop runs under it.
	Base        func() context.Context
	StopTimeout time.Duration

	// Jobs runs background scans. When nil Commands starts one under Base.
	Jobs *rtsup.Supervisor
}

type handlers struct {
	d Deps
}

// Commands returns the control command set.
func Commands(d Deps) []router.Command {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Base == nil {
		d.Base = context.Background
	}
	if d.StopTimeout <= 0 {
		d.StopTimeout = monitor.DefaultStopTimeout
	}
	if d.Jobs == nil {
		d.Jobs = rtsup.New(d.Base(), rtsup.WithLogger(d.Log), rtsup.WithCancelOnError(false))
	}
	h := &handlers{d: d}
	return []router.Command{
		{Name: "status", Description: "состояние мониторинга", Access: router.AccessOwnerOnly, Timeout: 10 * time.Second, Handle: h.status},
		{Name: "stats", Description: "статистика", Access: router.AccessOwnerOnly, Timeout: 10 * time.Second, Handle: h.stats},
		{Name: "groups", Description: "список групп", Access: router.AccessOwnerOnly, Timeout: 10 * time.Second, Handle: h.groups},
		{Name: "scan", Usage: "/scan <группа>", Description: "сканировать группу", Access: router.AccessOwnerOnly, Timeout: 10 * time.Second, Handle: h.scan},
		{Name: "startmon", Description: "запустить мониторинг", Access: router.AccessOwnerOnly, Timeout: 10 * time.Second, Handle: h.start},
		{Name: "stopmon", Description: "остановить мониторинг", Access: router.AccessOwnerOnly, Timeout: d.StopTimeout + 5*time.Second, Handle: h.stop},
	}
}

func (h *handlers) cfg() *config.Config {
	if h.d.Config == nil {
		return nil
	}
	return h.d.Config.Get()
}

func (h *handlers) status(ctx context.Context, req *router.Request) error {
	b := tgui.New().KV("Мониторинг", h.d.Monitor.State())
	if h.d.Tracker != nil {
		snap := h.d.Tracker.Snapshot(5)
		b.KV("Прогресс", fmt.Sprintf("%d%%", snap.Progress))
		if snap.Countdown > 0 {
			b.KV("До следующего цикла", time.Duration(snap.Countdown)*time.Second)
		}
		if len(snap.Logs) > 0 {
			b.Blank().Line(tgui.B("Последние события:"))
			for _, l := range snap.Logs {
				b.Line(tgui.Code(l.At.Format("15:04:05")) + " " + tgui.Esc(tgui.TruncRunes(l.Msg, logLineRunes)))
			}
		}
	}
	return req.Reply(ctx, b.Text(), b.Options())
}

func (h *handlers) stats(ctx context.Context, req *router.Request) error {
	g := h.d.Monitor.Stats()
	b := tgui.New().Title("📊", "Общая статистика")
	for _, p := range catalog.Order {
		b.Textf("%s: %d", p, g.PerPlatform[p])
	}
	b.Textf("Всего: %d", g.Total).
		Textf("Новых: %d", g.New).
		Textf("Обновлений: %d", g.Update).
		Textf("Совпадений: %d", g.Exact).
		Textf("Среднее время на ключ: %.2f c", g.AvgKeywordTime)
	if h.d.Tracker != nil {
		if s := h.d.Tracker.Snapshot(1).Session; s != nil {
			b.Blank().Line(tgui.B("Последний проход") + tgui.Esc(" ("+s.Group+")"))
			for _, p := range catalog.Order {
				if n := s.PerPlatform[p]; n > 0 {
					b.Textf("%s: %d", p, n)
				}
			}
			b.Textf("Всего: %d", s.Total)
		}
	}
	return req.Reply(ctx, b.Text(), b.Options())
}

func (h *handlers) groups(ctx context.Context, req *router.Request) error {
	cfg := h.cfg()
	if cfg == nil || len(cfg.Groups) == 0 {
		return req.Reply(ctx, "Группы не настроены", nil)
	}
	b := tgui.New()
	for _, g := range cfg.Groups {
		mark := "✅ "
		if !g.IsEnabled() {
			mark = "⏸ "
		}
		line := tgui.H(mark) + tgui.B(g.Name) + tgui.Esc(fmt.Sprintf(" (%d кл.)", len(g.Keywords)))
		var flags []tgui.H
		if g.NotifyNew {
			flags = append(flags, "новые")
		}
		if g.NotifyUpdate {
			flags = append(flags, "обновления")
		}
		if g.NotifyExact {
			flags = append(flags, "совпадения")
		}
		if len(flags) > 0 {
			line += ": " + tgui.JoinH(", ", flags...)
		}
		b.Line(line)
	}
	return req.Reply(ctx, b.Text(), b.Options())
}

func (h *handlers) scan(ctx context.Context, req *router.Request) error {
	name := strings.TrimSpace(strings.Join(req.Args, " "))
	if name == "" {
		return req.Reply(ctx, "Использование: /scan <группа>", nil)
	}
	g, ok := h.cfg().FindGroup(name)
	switch {
	case !ok:
		return req.Reply(ctx, "Группа не найдена: "+name, nil)
	case !g.IsEnabled():
		return req.Reply(ctx, "Группа отключена: "+name, nil)
	case h.d.Monitor.Running():
		return req.Reply(ctx, "Мониторинг запущен, остановите его перед сканированием", nil)
	}

	if err := req.Reply(ctx, "Сканирование группы "+name+"...", nil); err != nil {
		return err
	}
	h.d.Jobs.Go0("control.scan."+name, func(jctx context.Context) {
		err := h.d.Monitor.ScanGroup(jctx, name)
		text := "Сканирование группы " + name + " завершено"
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, monitor.ErrBusy):
			text = "Мониторинг занят, повторите позже"
		default:
			req.Logger.Warn("scan failed", logx.String("group", name), logx.Err(err))
			text = fmt.Sprintf("Ошибка сканирования группы %s: %v", name, err)
		}
		_ = req.Reply(jctx, text, nil)
	})
	return nil
}

func (h *handlers) start(ctx context.Context, req *router.Request) error {
	if !h.d.Monitor.Start(h.d.Base()) {
		return req.Reply(ctx, "Мониторинг уже запущен", nil)
	}
	return req.Reply(ctx, "Мониторинг запущен", nil)
}

func (h *handlers) stop(ctx context.Context, req *router.Request) error {
	if !h.d.Monitor.Running() {
		return req.Reply(ctx, "Мониторинг не запущен", nil)
	}
	if !h.d.Monitor.Stop(h.d.StopTimeout) {
		return req.Reply(ctx, "Мониторинг не остановился вовремя", nil)
	}
	return req.Reply(ctx, "Мониторинг остановлен", nil)
}
