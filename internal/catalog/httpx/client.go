// Package httpx builds the retrying HTTP client shared by the HTML and JSON
// catalog adapters.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"appwatch/internal/catalog"
	logx "appwatch/pkg/logx"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultTimeout   = 10 * time.Second

	maxBodyBytes = 8 << 20
)

type Config struct {
	Timeout    time.Duration
	RetryMax   int
	UserAgent  string
	RatePerSec int // 0 disables client-side rate limiting
}

// Client implements catalog.Fetcher. One retryablehttp client is kept per
// proxy URL so connection pools are not shared across proxies.
type Client struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	byProxy map[string]*retryablehttp.Client
}

var _ catalog.Fetcher = (*Client)(nil)

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Client{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "httpx")),
		byProxy: map[string]*retryablehttp.Client{},
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return c
}

func (c *Client) client(proxy string) (*retryablehttp.Client, error) {
	proxy = strings.TrimSpace(proxy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.byProxy[proxy]; ok {
		return rc, nil
	}

	rc := retryablehttp.NewClient()
	rc.Logger = leveled{log: c.log}
	rc.RetryMax = c.cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = c.cfg.Timeout

	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", proxy)
		}
		if t, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
			t.Proxy = http.ProxyURL(u)
		} else {
			rc.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
	c.byProxy[proxy] = rc
	return rc, nil
}

// Fetch GETs rawURL and returns the body. Non-2xx answers are *catalog.StatusError.
func (c *Client) Fetch(ctx context.Context, rawURL, proxy string) ([]byte, error) {
	rc, err := c.client(proxy)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")

	resp, err := rc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &catalog.StatusError{URL: rawURL, Status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// leveled routes retryablehttp logging into logx at debug level.
type leveled struct{ log logx.Logger }

func kv(keysAndValues []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}

func (l leveled) Error(msg string, keysAndValues ...interface{}) { l.log.Warn(msg, kv(keysAndValues)...) }
func (l leveled) Info(msg string, keysAndValues ...interface{})  { l.log.Debug(msg, kv(keysAndValues)...) }
func (l leveled) Debug(msg string, keysAndValues ...interface{}) { l.log.Debug(msg, kv(keysAndValues)...) }
func (l leveled) Warn(msg string, keysAndValues ...interface{})  { l.log.Warn(msg, kv(keysAndValues)...) }
