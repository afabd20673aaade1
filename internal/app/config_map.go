package app

import (
	"fmt"
	"strings"
	"time"

	"appwatch/internal/catalog/headless"
	"appwatch/internal/catalog/httpx"
	"appwatch/internal/config"
	"appwatch/internal/notifier"
	"appwatch/internal/status"
	"appwatch/internal/storage"
	logx "appwatch/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	if cfg == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	out := storage.Config{
		Driver:    driver,
		Path:      strings.TrimSpace(sc.Path),
		DSN:       strings.TrimSpace(sc.DSN),
		Addr:      strings.TrimSpace(sc.Addr),
		Password:  sc.Password,
		DB:        sc.DB,
		KeyPrefix: sc.KeyPrefix,
		MaxConns:  sc.MaxConns,
	}
	switch driver {
	case "file", "json":
		if out.Path == "" {
			out.Path = "./data/appwatch.json"
		}
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		out.BusyTimeout = busy
	case "postgres", "postgresql", "pg":
		if out.DSN == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	case "redis":
		if out.Addr == "" {
			return storage.Config{}, false, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, true, nil
}

// mapNotifierConfig returns defaults with Enabled=true when the section is omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	n := cfg.Notifier
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		DedupWindow:   dedup,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (status.Config, error) {
	if cfg == nil || cfg.HTTP == nil {
		return status.Config{}, nil
	}
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	// long enough for /groups/{name}/scan?wait=true
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 10*time.Minute)
	if err != nil {
		return status.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	return status.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		CORSOrigins:   append([]string(nil), h.CORSOrigins...),
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapBrowserConfig(cfg *config.Config) (headless.Config, error) {
	out := headless.Config{Headless: true}
	if cfg == nil || cfg.Browser == nil {
		return out, nil
	}
	b := cfg.Browser
	timeout, err := config.ParseDurationField("browser.timeout", b.Timeout)
	if err != nil {
		return headless.Config{}, err
	}
	out.RemoteURL = strings.TrimSpace(b.RemoteURL)
	out.Timeout = timeout
	if b.Headless != nil {
		out.Headless = *b.Headless
	}
	return out, nil
}

func mapHTTPClientConfig(cfg *config.Config) (httpx.Config, error) {
	if cfg == nil || cfg.HTTPClient == nil {
		return httpx.Config{RetryMax: 2}, nil
	}
	c := cfg.HTTPClient
	timeout, err := config.ParseDurationField("http_client.timeout", c.Timeout)
	if err != nil {
		return httpx.Config{}, err
	}
	return httpx.Config{
		Timeout:    timeout,
		RetryMax:   c.RetryMax,
		UserAgent:  c.UserAgent,
		RatePerSec: c.RatePerSec,
	}, nil
}

// controlPollTimeout derives the long-poll budget from the legacy interval
// (milliseconds).
func controlPollTimeout(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Interval <= 0 {
		return 10 * time.Second
	}
	d := time.Duration(cfg.Interval) * time.Millisecond
	if d < time.Second {
		d = time.Second
	}
	return d
}

func controlOwners(cfg *config.Config) []int64 {
	if cfg == nil || cfg.Control == nil {
		return nil
	}
	return cfg.Control.OwnerUserIDs
}
