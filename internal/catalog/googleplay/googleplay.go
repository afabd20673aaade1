// Package googleplay scrapes Google Play search and details pages.
package googleplay

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"appwatch/internal/catalog"
)

const DefaultBaseURL = "https://play.google.com"

type Adapter struct {
	fetch   catalog.Fetcher
	baseURL string
}

type Option func(*Adapter)

func WithBaseURL(u string) Option { return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") } }

func New(f catalog.Fetcher, opts ...Option) *Adapter {
	a := &Adapter{fetch: f, baseURL: DefaultBaseURL}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Platform() catalog.Platform { return catalog.GooglePlay }

func (a *Adapter) Search(ctx context.Context, keyword string, limit int, proxy string) ([]catalog.Listing, error) {
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("c", "apps")
	q.Set("hl", "ru")
	q.Set("gl", "RU")

	body, err := a.fetch.Fetch(ctx, a.baseURL+"/store/search?"+q.Encode(), proxy)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	hits := parseSearch(doc, limit)
	out := make([]catalog.Listing, 0, len(hits))
	for _, h := range hits {
		out = append(out, catalog.Listing{
			Platform:  catalog.GooglePlay,
			Keyword:   keyword,
			Title:     h.title,
			Developer: h.developer,
			// canonical form, independent of the mirror used for fetching
			URL:     DefaultBaseURL + "/store/apps/details?id=" + h.id,
			Version: a.version(ctx, h.id, proxy),
		})
	}
	return out, nil
}

type hit struct {
	id        string
	title     string
	developer string
}

func parseSearch(doc *goquery.Document, limit int) []hit {
	var out []hit
	seen := map[string]struct{}{}
	doc.Find(`a[href*="/store/apps/details?id="]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		id := u.Query().Get("id")
		if id == "" {
			return true
		}
		if _, dup := seen[id]; dup {
			return true
		}

		var texts []string
		s.Find("span, div").Each(func(_ int, t *goquery.Selection) {
			if t.Children().Length() > 0 {
				return
			}
			if v := strings.TrimSpace(t.Text()); v != "" {
				texts = append(texts, v)
			}
		})
		if len(texts) == 0 {
			if v, ok := s.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
				texts = append(texts, strings.TrimSpace(v))
			}
		}
		if len(texts) == 0 {
			return true
		}

		seen[id] = struct{}{}
		h := hit{id: id, title: texts[0]}
		if len(texts) > 1 {
			h.developer = texts[1]
		}
		out = append(out, h)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// version is best effort: an unreachable details page yields "".
func (a *Adapter) version(ctx context.Context, id, proxy string) string {
	body, err := a.fetch.Fetch(ctx, a.baseURL+"/store/apps/details?id="+url.QueryEscape(id)+"&hl=ru", proxy)
	if err != nil {
		return ""
	}
	return parseVersion(body)
}

var reVersion = regexp.MustCompile(`(?is)Текущая версия.*?>([^<]+)<`)

func parseVersion(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if v := strings.TrimSpace(doc.Find(`[itemprop="softwareVersion"]`).First().Text()); v != "" {
			return v
		}
		var v string
		doc.Find("div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			own := strings.TrimSpace(s.Contents().Not("*").Text())
			if !strings.Contains(strings.ToLower(own), "текущая версия") {
				return true
			}
			v = strings.TrimSpace(s.NextFiltered("span").Text())
			return v == ""
		})
		if v != "" {
			return v
		}
	}
	if m := reVersion.FindSubmatch(body); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}
