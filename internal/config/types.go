package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	Groups    []Group    `json:"groups"`
	Endpoints []Endpoint `json:"endpoints"`

	// CycleInterval is the wait between cycles. Accepts a number of seconds
	// (1500), a Go duration ("25m"), HH:MM ("00:25") or a cron expression
	// ("*/30 * * * *").
	CycleInterval Schedule `json:"cycle_interval,omitempty"`

	// DelayRange is the [min, max] pacing window in seconds between catalog calls.
	DelayRange []float64 `json:"delay_range,omitempty"`

	// Interval is carried over from older configs; the control bot uses it as
	// its long-poll budget in milliseconds.
	Interval int `json:"interval,omitempty"`

	Proxy     string    `json:"proxy,omitempty"`
	Platforms Platforms `json:"platforms"`

	NotifyErrors  bool         `json:"notify_errors,omitempty"`
	ErrorEndpoint *EndpointRef `json:"error_endpoint,omitempty"`

	// AutoStart starts the monitoring loop together with the process.
	AutoStart *bool `json:"auto_start,omitempty"`

	Logging    LoggingConfig     `json:"logging"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	HTTP       *HTTPConfig       `json:"http,omitempty"`
	Control    *ControlConfig    `json:"control,omitempty"`
	Browser    *BrowserConfig    `json:"browser,omitempty"`
	HTTPClient *HTTPClientConfig `json:"http_client,omitempty"`
}

// Group is a named keyword set with its own notification routing.
type Group struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	// Enabled is a pointer so an omitted flag means enabled.
	Enabled *bool `json:"enabled,omitempty"`

	NotifyNew          bool         `json:"notify_new,omitempty"`
	NotifyNewTarget    *EndpointRef `json:"notify_new_target,omitempty"`
	NotifyExact        bool         `json:"notify_exact,omitempty"`
	NotifyExactTarget  *EndpointRef `json:"notify_exact_target,omitempty"`
	NotifyUpdate       bool         `json:"notify_update,omitempty"`
	NotifyUpdateTarget *EndpointRef `json:"notify_update_target,omitempty"`
}

func (g Group) IsEnabled() bool { return g.Enabled == nil || *g.Enabled }

// Endpoint is a named notification destination.
type Endpoint struct {
	Name     string `json:"name"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// EndpointRef points into Config.Endpoints either by position or by name.
//
// In config files it is written as a bare integer (0-based index) or a string
// (endpoint name). An all-digit string is treated as an index, and an empty
// string means no endpoint.
type EndpointRef struct {
	Index int
	Name  string
	byIdx bool
}

func RefIndex(i int) *EndpointRef      { return &EndpointRef{Index: i, byIdx: true} }
func RefName(name string) *EndpointRef { return &EndpointRef{Name: name} }

// IsZero reports an absent reference: nil, or decoded from "".
func (r *EndpointRef) IsZero() bool { return r == nil || (!r.byIdx && r.Name == "") }

func (r EndpointRef) String() string {
	if r.byIdx {
		return "#" + strconv.Itoa(r.Index)
	}
	return r.Name
}

func (r EndpointRef) MarshalJSON() ([]byte, error) {
	if r.byIdx {
		return json.Marshal(r.Index)
	}
	return json.Marshal(r.Name)
}

func (r *EndpointRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = EndpointRef{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			*r = EndpointRef{Index: n, byIdx: true}
			return nil
		}
		*r = EndpointRef{Name: s}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("endpoint ref: want index or name: %w", err)
	}
	*r = EndpointRef{Index: n, byIdx: true}
	return nil
}

var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Resolve looks the reference up in the endpoint table.
func (r *EndpointRef) Resolve(eps []Endpoint) (Endpoint, error) {
	if r == nil {
		return Endpoint{}, ErrUnknownEndpoint
	}
	if r.byIdx {
		if r.Index < 0 || r.Index >= len(eps) {
			return Endpoint{}, fmt.Errorf("%w: index %d", ErrUnknownEndpoint, r.Index)
		}
		return eps[r.Index], nil
	}
	for _, ep := range eps {
		if strings.EqualFold(ep.Name, r.Name) {
			return ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, r.Name)
}

// Schedule holds the raw cycle_interval value. Numbers are seconds.
type Schedule string

func (s Schedule) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseFloat(string(s), 64); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(s))
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Schedule(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("cycle_interval: want seconds or schedule string: %w", err)
	}
	*s = Schedule(n.String())
	return nil
}

// Platforms holds per-catalog enable flags and result caps.
type Platforms struct {
	GooglePlay    PlatformConfig `json:"google_play"`
	AppStore      PlatformConfig `json:"app_store"`
	RuStore       PlatformConfig `json:"rustore"`
	XiaomiGlobal  PlatformConfig `json:"xiaomi_global"`
	XiaomiGetApps PlatformConfig `json:"xiaomi_getapps"`
	GalaxyStore   PlatformConfig `json:"galaxy_store"`
	HuaweiGallery PlatformConfig `json:"huawei_appgallery"`
}

type PlatformConfig struct {
	Enabled    *bool `json:"enabled,omitempty"`
	MaxResults int   `json:"max_results,omitempty"`
}

func (p PlatformConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the state backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/appwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // file, sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres
	Addr        string `json:"addr,omitempty"`         // redis
	Password    string `json:"password,omitempty"`     // redis (do not log)
	DB          int    `json:"db,omitempty"`           // redis
	KeyPrefix   string `json:"key_prefix,omitempty"`   // redis
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxConns    int    `json:"max_conns,omitempty"`    // postgres
}

// NotifierConfig controls the async delivery queue.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
// If the section is omitted, the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// HTTPConfig controls the operator HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8088").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool     `json:"enabled"`
	Addr          string   `json:"addr,omitempty"`
	Token         string   `json:"token,omitempty"`
	AllowInsecure bool     `json:"allow_insecure,omitempty"`
	Pprof         bool     `json:"pprof,omitempty"`
	CORSOrigins   []string `json:"cors_origins,omitempty"`
	ReadTimeout   string   `json:"read_timeout,omitempty"`
	WriteTimeout  string   `json:"write_timeout,omitempty"`
	IdleTimeout   string   `json:"idle_timeout,omitempty"`
}

// ControlConfig enables the operator Telegram bot.
type ControlConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
}

// BrowserConfig configures the headless browser used by JS-rendered catalogs.
type BrowserConfig struct {
	RemoteURL string `json:"remote_url,omitempty"`
	Headless  *bool  `json:"headless,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// HTTPClientConfig configures the HTTP client shared by HTML/JSON catalogs.
type HTTPClientConfig struct {
	Timeout    string `json:"timeout,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
