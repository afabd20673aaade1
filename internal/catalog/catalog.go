// Package catalog defines the normalized listing model shared by all app
// store adapters and the helpers the monitor uses to call them.
package catalog

import (
	"context"
	"strings"
)

// Platform is the tag a listing is stored and reported under. The values are
// persisted as part of identity keys, so they must never change.
type Platform string

const (
	GooglePlay       Platform = "Google Play"
	AppStore         Platform = "App Store"
	RuStore          Platform = "RuStore"
	XiaomiGlobal     Platform = "Xiaomi Global Store"
	XiaomiGetApps    Platform = "Xiaomi GetApps"
	GalaxyStore      Platform = "Samsung Galaxy Store"
	HuaweiAppGallery Platform = "Huawei AppGallery"
)

// Order is the fixed invocation order within one keyword.
var Order = []Platform{
	GooglePlay,
	AppStore,
	RuStore,
	XiaomiGlobal,
	XiaomiGetApps,
	GalaxyStore,
	HuaweiAppGallery,
}

// Listing is one normalized search result.
type Listing struct {
	Platform    Platform `json:"platform"`
	Keyword     string   `json:"keyword"`
	Title       string   `json:"title"`
	Developer   string   `json:"developer,omitempty"`
	Version     string   `json:"version,omitempty"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Rating      string   `json:"rating,omitempty"`
}

// Identity is the dedup key of a listing.
type Identity struct {
	Platform Platform
	URL      string
}

// String renders the persisted key form "<platform>::<url>".
func (id Identity) String() string { return string(id.Platform) + "::" + id.URL }

// Identity returns the listing identity. ok is false when the listing has no URL.
func (l Listing) Identity() (Identity, bool) {
	u := strings.TrimSpace(l.URL)
	if u == "" {
		return Identity{}, false
	}
	return Identity{Platform: l.Platform, URL: u}, true
}

// Adapter searches one catalog. Implementations may return partial results
// together with an error; callers go through Safe.
type Adapter interface {
	Platform() Platform
	Search(ctx context.Context, keyword string, limit int, proxy string) ([]Listing, error)
}

// Fetcher retrieves a URL body, optionally through a proxy.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, proxy string) ([]byte, error)
}

// AdapterFunc adapts a plain function to Adapter.
func AdapterFunc(p Platform, fn func(ctx context.Context, keyword string, limit int, proxy string) ([]Listing, error)) Adapter {
	return funcAdapter{p: p, fn: fn}
}

type funcAdapter struct {
	p  Platform
	fn func(ctx context.Context, keyword string, limit int, proxy string) ([]Listing, error)
}

func (f funcAdapter) Platform() Platform { return f.p }

func (f funcAdapter) Search(ctx context.Context, keyword string, limit int, proxy string) ([]Listing, error) {
	return f.fn(ctx, keyword, limit, proxy)
}
