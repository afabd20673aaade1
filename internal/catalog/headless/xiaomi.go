package headless

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"appwatch/internal/catalog"
)

const DefaultXiaomiBaseURL = "https://global.app.mi.com"

const (
	xgCardSel   = "div.container_oG9MN"
	xgIconSel   = "img.icon_2wPOA"
	xgDetailSel = `div[class*="app-more__item"]`

	gaCardSel   = "div.search-result__item__container_KFv1n"
	gaClickSel  = `div[role="button"]`
	gaDetailSel = `p[class*="app-info__brief"]`
)

var reDottedVersion = regexp.MustCompile(`^\d+(?:\.\d+)+$`)

type xiaomiCard struct {
	title     string
	developer string
	click     int // index among all clickable elements on the page, -1 when absent
}

// XiaomiGlobal searches the Xiaomi Global Store (RU locale).
type XiaomiGlobal struct {
	b       *Browser
	baseURL string
}

func NewXiaomiGlobal(b *Browser) *XiaomiGlobal {
	return &XiaomiGlobal{b: b, baseURL: DefaultXiaomiBaseURL}
}

func (a *XiaomiGlobal) Platform() catalog.Platform { return catalog.XiaomiGlobal }

func (a *XiaomiGlobal) Search(ctx context.Context, keyword string, limit int, proxy string) ([]catalog.Listing, error) {
	searchURL := a.baseURL + "/search?lo=RU&la=ru&q=" + url.QueryEscape(keyword)
	var out []catalog.Listing
	err := a.b.session(ctx, searchURL, proxy, func(s *session) error {
		if err := s.wait(xgCardSel); err != nil {
			return err
		}
		doc, err := s.document()
		if err != nil {
			return err
		}
		for _, c := range parseXiaomiGlobalCards(doc) {
			if limit > 0 && len(out) >= limit {
				break
			}
			if c.title == "" || c.developer == "" || c.click < 0 {
				continue
			}
			u, detail, err := s.visit(xgCardSel+" "+xgIconSel, c.click, xgDetailSel, xgCardSel)
			if u != "" {
				out = append(out, catalog.Listing{
					Platform:  catalog.XiaomiGlobal,
					Keyword:   keyword,
					Title:     c.title,
					Developer: c.developer,
					URL:       u,
					Version:   xiaomiGlobalVersion(detail),
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

func parseXiaomiGlobalCards(doc *goquery.Document) []xiaomiCard {
	var out []xiaomiCard
	click := 0
	doc.Find(xgCardSel).Each(func(_ int, card *goquery.Selection) {
		c := xiaomiCard{click: -1}
		label, _ := card.Attr("aria-label")
		for _, part := range strings.Split(label, ",") {
			switch {
			case strings.Contains(part, "APP Name:"):
				c.title = strings.TrimSpace(after(part, "APP Name:"))
			case strings.Contains(part, "Developer:"):
				c.developer = strings.TrimSpace(after(part, "Developer:"))
			}
		}
		if c.title == "" {
			c.title = strings.TrimSpace(card.Find(`p[class*="app__title"]`).First().Text())
		}
		if c.developer == "" {
			c.developer = strings.TrimSpace(card.Find(`p[class*="app__developer"]`).First().Text())
		}
		if n := card.Find(xgIconSel).Length(); n > 0 {
			c.click = click
			click += n
		}
		out = append(out, c)
	})
	return out
}

func xiaomiGlobalVersion(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	var v string
	doc.Find(xgDetailSel + `[aria-label^="Version:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		cand := strings.TrimSpace(after(label, "Version:"))
		if reDottedVersion.MatchString(cand) {
			v = cand
			return false
		}
		return true
	})
	return v
}

// XiaomiGetApps searches the GetApps flavour of the Xiaomi store (ID locale).
type XiaomiGetApps struct {
	b       *Browser
	baseURL string
}

func NewXiaomiGetApps(b *Browser) *XiaomiGetApps {
	return &XiaomiGetApps{b: b, baseURL: DefaultXiaomiBaseURL}
}

func (a *XiaomiGetApps) Platform() catalog.Platform { return catalog.XiaomiGetApps }

func (a *XiaomiGetApps) Search(ctx context.Context, keyword string, limit int, proxy string) ([]catalog.Listing, error) {
	searchURL := a.baseURL + "/search?lo=ID&la=ru&q=" + url.QueryEscape(keyword)
	var out []catalog.Listing
	err := a.b.session(ctx, searchURL, proxy, func(s *session) error {
		if err := s.wait(gaCardSel); err != nil {
			return err
		}
		doc, err := s.document()
		if err != nil {
			return err
		}
		for _, c := range parseGetAppsCards(doc) {
			if limit > 0 && len(out) >= limit {
				break
			}
			if c.click < 0 {
				continue
			}
			u, detail, err := s.visit(gaCardSel+" "+gaClickSel, c.click, gaDetailSel, gaCardSel)
			if u != "" {
				desc, ver := getAppsDetail(detail)
				out = append(out, catalog.Listing{
					Platform:    catalog.XiaomiGetApps,
					Keyword:     keyword,
					Title:       c.title,
					Developer:   c.developer,
					URL:         u,
					Version:     ver,
					Description: desc,
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

func parseGetAppsCards(doc *goquery.Document) []xiaomiCard {
	var out []xiaomiCard
	click := 0
	doc.Find(gaCardSel).Each(func(_ int, card *goquery.Selection) {
		c := xiaomiCard{click: -1}
		btn := card.Find(gaClickSel)
		if btn.Length() == 0 {
			out = append(out, c)
			return
		}
		label, _ := btn.First().Attr("aria-label")
		if parts := strings.Split(label, ","); len(parts) >= 2 {
			c.title = strings.TrimSpace(strings.Replace(parts[0], "APP Name:", "", 1))
			c.developer = strings.TrimSpace(strings.Replace(parts[1], "Developer:", "", 1))
		}
		c.click = click
		click += btn.Length()
		out = append(out, c)
	})
	return out
}

// getAppsDetail extracts the description and the first dotted value that is
// not a size ("12.5 MB").
func getAppsDetail(doc *goquery.Document) (desc, version string) {
	if doc == nil {
		return "", ""
	}
	desc = strings.TrimSpace(doc.Find(gaDetailSel).First().Text())
	doc.Find(`div[class*="app-more__item__content"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		up := strings.ToUpper(text)
		if reLeadingVersion.MatchString(text) && !strings.Contains(up, "MB") && !strings.Contains(up, "GB") && !strings.Contains(up, "KB") {
			version = text
			return false
		}
		return true
	})
	return desc, version
}

var reLeadingVersion = regexp.MustCompile(`^\d+(?:\.\d+)+`)

func after(s, marker string) string {
	if i := strings.LastIndex(s, marker); i >= 0 {
		return s[i+len(marker):]
	}
	return s
}
