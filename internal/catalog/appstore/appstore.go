// Package appstore searches the Apple App Store through the public iTunes
// Search API.
package appstore

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"appwatch/internal/catalog"
)

const DefaultBaseURL = "https://itunes.apple.com/search"

type Adapter struct {
	fetch   catalog.Fetcher
	baseURL string
	country string
}

type Option func(*Adapter)

func WithBaseURL(u string) Option { return func(a *Adapter) { a.baseURL = u } }
func WithCountry(c string) Option { return func(a *Adapter) { a.country = c } }

func New(f catalog.Fetcher, opts ...Option) *Adapter {
	a := &Adapter{fetch: f, baseURL: DefaultBaseURL, country: "US"}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Platform() catalog.Platform { return catalog.AppStore }

func (a *Adapter) Search(ctx context.Context, keyword string, limit int, proxy string) ([]catalog.Listing, error) {
	q := url.Values{}
	q.Set("term", keyword)
	q.Set("country", a.country)
	q.Set("media", "software")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := a.fetch.Fetch(ctx, a.baseURL+"?"+q.Encode(), proxy)
	if err != nil {
		return nil, err
	}
	return parse(body, keyword), nil
}

func parse(body []byte, keyword string) []catalog.Listing {
	var out []catalog.Listing
	gjson.GetBytes(body, "results").ForEach(func(_, app gjson.Result) bool {
		out = append(out, catalog.Listing{
			Platform:    catalog.AppStore,
			Keyword:     keyword,
			Title:       app.Get("trackName").String(),
			Developer:   app.Get("artistName").String(),
			URL:         app.Get("trackViewUrl").String(),
			Version:     app.Get("version").String(),
			Description: app.Get("description").String(),
			Rating:      rating(app.Get("averageUserRating")),
		})
		return true
	})
	return out
}

func rating(r gjson.Result) string {
	if !r.Exists() || r.Float() == 0 {
		return ""
	}
	return strconv.FormatFloat(r.Float(), 'f', 1, 64)
}
