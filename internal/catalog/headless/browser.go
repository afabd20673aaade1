// Package headless drives a Chrome instance through rod for catalogs that
// render their results with JavaScript: Xiaomi Global Store, Xiaomi GetApps,
// Samsung Galaxy Store and Huawei AppGallery.
//
// Navigation happens in the browser; extraction runs over the rendered HTML
// with goquery so it can be tested without a browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	logx "appwatch/pkg/logx"
)

const (
	DefaultTimeout = 15 * time.Second
	navTimeout     = 30 * time.Second
)

var ErrClosed = errors.New("headless: browser closed")

type Config struct {
	// RemoteURL is the DevTools WebSocket of an external Chrome. Empty launches a local one.
	RemoteURL string
	Headless  bool
	// Timeout bounds each selector wait.
	Timeout time.Duration
}

// Browser lazily launches Chrome on first use and relaunches it when the
// proxy changes. Pages are opened one at a time.
type Browser struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	proxy   string
	closed  bool
}

func NewBrowser(cfg Config, log logx.Logger) *Browser {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Browser{cfg: cfg, log: log.With(logx.String("comp", "headless"))}
}

func (b *Browser) connectLocked(proxy string) error {
	if b.browser != nil && b.proxy == proxy {
		return nil
	}
	b.cleanupLocked()

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(b.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-gpu").
			NoSandbox(true)
		if proxy != "" {
			l = l.Proxy(proxy)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("headless: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.log.Info("launched local chrome", logx.Bool("headless", b.cfg.Headless), logx.Bool("proxy", proxy != ""))
	} else {
		b.log.Info("connecting to remote chrome", logx.String("url", wsURL))
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		b.cleanupLocked()
		return fmt.Errorf("headless: connect: %w", err)
	}
	b.browser = br
	b.proxy = proxy
	return nil
}

func (b *Browser) cleanupLocked() {
	if b.browser != nil {
		_ = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

// Close shuts the browser down. Further sessions fail with ErrClosed.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cleanupLocked()
	return nil
}

// session runs fn with a fresh stealth page navigated to pageURL.
func (b *Browser) session(ctx context.Context, pageURL, proxy string, fn func(s *session) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	// a remote browser owns its own proxy settings
	if b.cfg.RemoteURL != "" {
		proxy = ""
	}
	if err := b.connectLocked(strings.TrimSpace(proxy)); err != nil {
		return err
	}

	page, err := stealth.Page(b.browser)
	if err != nil {
		// the browser may have died; relaunch on next use
		b.cleanupLocked()
		return fmt.Errorf("headless: new page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx)
	nav := page.Timeout(navTimeout)
	err = nav.Navigate(pageURL)
	if err == nil {
		if werr := nav.WaitLoad(); werr != nil {
			b.log.Debug("wait load timeout", logx.String("url", pageURL), logx.Err(werr))
		}
	}
	nav.CancelTimeout()
	if err != nil {
		return fmt.Errorf("headless: navigate %s: %w", pageURL, err)
	}
	return fn(&session{page: page, timeout: b.cfg.Timeout})
}

type session struct {
	page    *rod.Page
	timeout time.Duration
}

// wait blocks until sel matches.
func (s *session) wait(sel string) error {
	p := s.page.Timeout(s.timeout)
	defer p.CancelTimeout()
	if _, err := p.Element(sel); err != nil {
		return fmt.Errorf("wait %q: %w", sel, err)
	}
	return nil
}

func (s *session) document() (*goquery.Document, error) {
	html, err := s.page.HTML()
	if err != nil {
		return nil, err
	}
	return parseHTML(html)
}

// visit clicks the n-th element matching sel, waits for the detail page
// (detailSel, or a load event when empty), returns its URL and document, then
// goes back and waits for listSel again.
func (s *session) visit(sel string, n int, detailSel, listSel string) (string, *goquery.Document, error) {
	els, err := s.page.Elements(sel)
	if err != nil {
		return "", nil, err
	}
	if n >= len(els) {
		return "", nil, fmt.Errorf("element %d of %q not found", n, sel)
	}

	var waitNav func()
	if detailSel == "" {
		nav := s.page.Timeout(navTimeout)
		defer nav.CancelTimeout()
		waitNav = nav.WaitNavigation(proto.PageLifecycleEventNameLoad)
	}
	if _, err := els[n].Eval(`() => this.click()`); err != nil {
		return "", nil, fmt.Errorf("click: %w", err)
	}
	if waitNav != nil {
		waitNav()
	} else if err := s.wait(detailSel); err != nil {
		return "", nil, err
	}

	info, err := s.page.Info()
	if err != nil {
		return "", nil, err
	}
	doc, err := s.document()
	if err != nil {
		return "", nil, err
	}

	if err := s.page.NavigateBack(); err != nil {
		return info.URL, doc, fmt.Errorf("navigate back: %w", err)
	}
	if err := s.wait(listSel); err != nil {
		return info.URL, doc, err
	}
	return info.URL, doc, nil
}

func parseHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
