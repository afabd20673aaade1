package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks structural rules that would otherwise surface as silent
// notification drops or confusing runtime behavior.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	seen := make(map[string]struct{}, len(cfg.Groups))
	for i, g := range cfg.Groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return fmt.Errorf("groups[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("groups[%d].name %q is not unique", i, name)
		}
		seen[name] = struct{}{}

		refs := []struct {
			key string
			ref *EndpointRef
		}{
			{"notify_new_target", g.NotifyNewTarget},
			{"notify_exact_target", g.NotifyExactTarget},
			{"notify_update_target", g.NotifyUpdateTarget},
		}
		for _, r := range refs {
			if r.ref.IsZero() {
				continue
			}
			if _, err := r.ref.Resolve(cfg.Endpoints); err != nil {
				return fmt.Errorf("groups[%d].%s: %w", i, r.key, err)
			}
		}
	}

	for i, ep := range cfg.Endpoints {
		if strings.TrimSpace(ep.Token) == "" {
			return fmt.Errorf("endpoints[%d].token is required", i)
		}
		if ep.ChatID == 0 {
			return fmt.Errorf("endpoints[%d].chat_id is required", i)
		}
	}

	if !cfg.ErrorEndpoint.IsZero() {
		if _, err := cfg.ErrorEndpoint.Resolve(cfg.Endpoints); err != nil {
			return fmt.Errorf("error_endpoint: %w", err)
		}
	}

	if len(cfg.DelayRange) > 2 {
		return errors.New("delay_range must have at most two values")
	}
	for _, v := range cfg.DelayRange {
		if v < 0 {
			return errors.New("delay_range values must be >= 0")
		}
	}

	if cfg.Notifier != nil {
		n := cfg.Notifier
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			return errors.New("notifier: numeric values must be >= 0")
		}
		for key, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(key, raw); err != nil {
				return err
			}
		}
	}

	if cfg.HTTP != nil {
		for key, raw := range map[string]string{
			"http.read_timeout":  cfg.HTTP.ReadTimeout,
			"http.write_timeout": cfg.HTTP.WriteTimeout,
			"http.idle_timeout":  cfg.HTTP.IdleTimeout,
		} {
			if _, err := ParseDurationField(key, raw); err != nil {
				return err
			}
		}
	}

	if cfg.Control != nil && cfg.Control.Enabled && strings.TrimSpace(cfg.Control.Token) == "" {
		return errors.New("control.token is required when control.enabled=true")
	}
	if cfg.Browser != nil {
		if _, err := ParseDurationField("browser.timeout", cfg.Browser.Timeout); err != nil {
			return err
		}
	}
	if cfg.HTTPClient != nil {
		if _, err := ParseDurationField("http_client.timeout", cfg.HTTPClient.Timeout); err != nil {
			return err
		}
		if cfg.HTTPClient.RetryMax < 0 {
			return errors.New("http_client.retry_max must be >= 0")
		}
	}
	return nil
}
