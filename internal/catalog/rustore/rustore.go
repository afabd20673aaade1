// Package rustore scrapes the RuStore web catalog.
package rustore

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"appwatch/internal/catalog"
)

const DefaultBaseURL = "https://apps.rustore.ru"

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

func (a *Adapter) Platform() catalog.Platform { return catalog.RuStore }

func (a *Adapter) Search(ctx context.Context, keyword string, limit int, proxy string) ([]catalog.Listing, error) {
	body, err := a.fetch.Fetch(ctx, a.baseURL+"/search?query="+url.QueryEscape(keyword), proxy)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	cards := parseCards(doc, limit)
	out := make([]catalog.Listing, 0, len(cards))
	for _, c := range cards {
		l := catalog.Listing{
			Platform:    catalog.RuStore,
			Keyword:     keyword,
			Title:       c.title,
			Description: c.description,
			Rating:      c.rating,
		}
		if c.path != "" {
			l.URL = DefaultBaseURL + c.path
			l.Version = a.version(ctx, a.baseURL+c.path, proxy)
		}
		out = append(out, l)
	}
	return out, nil
}

type card struct {
	title       string
	description string
	rating      string
	path        string
}

// parseCards walks app cards. A card is any element holding an
// itemprop=name paragraph; its link is the enclosing or nested
// /catalog/app anchor.
func parseCards(doc *goquery.Document, limit int) []card {
	var out []card
	seen := map[card]struct{}{}
	doc.Find(`p[itemprop="name"]`).EachWithBreak(func(_ int, name *goquery.Selection) bool {
		box := name.Closest(`a[href*="/catalog/app"]`)
		if box.Length() == 0 {
			box = name.ParentsFiltered("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.Find(`a[href*="/catalog/app"]`).Length() > 0
			}).First()
		}
		if box.Length() == 0 {
			box = name.Parent()
		}

		c := card{
			title:       strings.TrimSpace(name.Text()),
			description: strings.TrimSpace(box.Find(`p[itemprop="description"]`).First().Text()),
			rating:      strings.TrimSpace(box.Find(`span[data-testid="rating"]`).First().Text()),
		}
		href, ok := box.Attr("href")
		if !ok || !strings.Contains(href, "/catalog/app") {
			href, _ = box.Find(`a[href*="/catalog/app"]`).First().Attr("href")
		}
		c.path = strings.TrimSpace(href)

		if _, dup := seen[c]; dup {
			return true
		}
		seen[c] = struct{}{}
		out = append(out, c)
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (a *Adapter) version(ctx context.Context, pageURL, proxy string) string {
	body, err := a.fetch.Fetch(ctx, pageURL, proxy)
	if err != nil {
		return ""
	}
	return parseVersion(body)
}

var reVersion = regexp.MustCompile(`Версия[:\s\-]*(\d+(?:\.\d+)+)`)

func parseVersion(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		if v := strings.TrimSpace(doc.Find(`[itemprop="softwareVersion"]`).First().Text()); v != "" {
			return v
		}
		if v, ok := doc.Find(`meta[itemprop="softwareVersion"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		if m := reVersion.FindStringSubmatch(doc.Text()); m != nil {
			return m[1]
		}
	}
	if m := reVersion.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}
