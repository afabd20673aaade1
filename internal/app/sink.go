package app

import (
	"context"
	"time"

	"appwatch/internal/notifier"
	kit "appwatch/internal/transport"
	logx "appwatch/pkg/logx"
)

// notifySink queues through the notifier and falls back to a direct send
// when the notifier is disabled by config.
type notifySink struct {
	notif  *notifier.Service
	sender kit.Sender
	log    logx.Logger
}

func (s notifySink) Notify(ctx context.Context, n kit.Notification) error {
	if s.notif != nil && s.notif.Enabled() {
		return s.notif.Notify(ctx, n)
	}
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.sender.Send(sctx, n.Endpoint, n.Text, n.Options); err != nil {
		s.log.Warn("direct send failed", logx.String("kind", n.Kind), logx.String("endpoint", n.Endpoint.Name), logx.Err(err))
		return err
	}
	return nil
}
