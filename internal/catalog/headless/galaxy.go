package headless

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"appwatch/internal/catalog"
)

const DefaultGalaxyBaseURL = "https://galaxystore.samsung.com"

const (
	gsCardSel  = "li.MuiGridListTile-root"
	gsClickSel = "div.MuiGridListTile-tile img"
)

var reTripleVersion = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

type galaxyCard struct {
	title     string
	developer string
	click     int
}

// Galaxy searches the Samsung Galaxy Store.
type Galaxy struct {
	b       *Browser
	baseURL string
}

func NewGalaxy(b *Browser) *Galaxy { return &Galaxy{b: b, baseURL: DefaultGalaxyBaseURL} }

func (a *Galaxy) Platform() catalog.Platform { return catalog.GalaxyStore }

func (a *Galaxy) Search(ctx context.Context, keyword string, limit int, proxy string) ([]catalog.Listing, error) {
	searchURL := a.baseURL + "/search?q=" + url.QueryEscape(keyword)
	var out []catalog.Listing
	err := a.b.session(ctx, searchURL, proxy, func(s *session) error {
		if err := s.wait(gsCardSel); err != nil {
			return err
		}
		doc, err := s.document()
		if err != nil {
			return err
		}
		cards := parseGalaxyCards(doc)
		if limit > 0 && len(cards) > limit {
			cards = cards[:limit]
		}
		for _, c := range cards {
			if c.title == "" || c.developer == "" || c.click < 0 {
				continue
			}
			u, detail, err := s.visit(gsCardSel+" "+gsClickSel, c.click, "", gsCardSel)
			if u != "" {
				out = append(out, catalog.Listing{
					Platform:  catalog.GalaxyStore,
					Keyword:   keyword,
					Title:     c.title,
					Developer: c.developer,
					URL:       u,
					Version:   galaxyVersion(detail),
				})
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func parseGalaxyCards(doc *goquery.Document) []galaxyCard {
	var out []galaxyCard
	click := 0
	doc.Find(gsCardSel).Each(func(_ int, card *goquery.Selection) {
		c := galaxyCard{
			title:     titleOrText(card.Find("#contentName").First()),
			developer: titleOrText(card.Find("#contentSeller").First()),
			click:     -1,
		}
		// only the first image of a card is clicked
		if n := card.Find(gsClickSel).Length(); n > 0 {
			c.click = click
			click += n
		}
		out = append(out, c)
	})
	return out
}

func titleOrText(s *goquery.Selection) string {
	if v, ok := s.Attr("title"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}

func galaxyVersion(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	if m := reTripleVersion.FindStringSubmatch(doc.Find("body").Text()); m != nil {
		return m[1] + "." + m[2] + "." + m[3]
	}
	return ""
}
