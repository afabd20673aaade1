package headless

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"appwatch/internal/catalog"
)

const DefaultHuaweiBaseURL = "https://appgallery.huawei.com"

const (
	hwTextSel   = "p[data-v-302a9de2]"
	hwDetailSel = "div.appSingleInfo"
)

type huaweiCard struct {
	title       string
	description string
	click       int
}

// Huawei searches Huawei AppGallery. Result cards render as pairs of
// paragraphs: title, then description.
type Huawei struct {
	b       *Browser
	baseURL string
}

func NewHuawei(b *Browser) *Huawei { return &Huawei{b: b, baseURL: DefaultHuaweiBaseURL} }

func (a *Huawei) Platform() catalog.Platform { return catalog.HuaweiAppGallery }

func (a *Huawei) Search(ctx context.Context, keyword string, limit int, proxy string) ([]catalog.Listing, error) {
	searchURL := a.baseURL + "/#/search/" + url.PathEscape(keyword)
	var out []catalog.Listing
	err := a.b.session(ctx, searchURL, proxy, func(s *session) error {
		if err := s.wait(hwTextSel); err != nil {
			return err
		}
		doc, err := s.document()
		if err != nil {
			return err
		}
		seen := map[string]struct{}{}
		for _, c := range parseHuaweiCards(doc) {
			if limit > 0 && len(out) >= limit {
				break
			}
			if _, dup := seen[c.title]; dup || c.title == "" {
				continue
			}
			u, detail, err := s.visit(hwTextSel, c.click, hwDetailSel, hwTextSel)
			if u != "" {
				seen[c.title] = struct{}{}
				ver, dev := huaweiDetail(detail)
				out = append(out, catalog.Listing{
					Platform:    catalog.HuaweiAppGallery,
					Keyword:     keyword,
					Title:       c.title,
					Description: c.description,
					Developer:   dev,
					URL:         u,
					Version:     ver,
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

func parseHuaweiCards(doc *goquery.Document) []huaweiCard {
	ps := doc.Find(hwTextSel)
	var out []huaweiCard
	for i := 0; i+1 < ps.Length(); i += 2 {
		out = append(out, huaweiCard{
			title:       strings.TrimSpace(ps.Eq(i).Text()),
			description: strings.TrimSpace(ps.Eq(i + 1).Text()),
			click:       i,
		})
	}
	return out
}

// huaweiDetail reads the "Версия" and "Разработчик" rows of the info block.
func huaweiDetail(doc *goquery.Document) (version, developer string) {
	if doc == nil {
		return "", ""
	}
	doc.Find(hwDetailSel).Each(func(_ int, row *goquery.Selection) {
		val := strings.TrimSpace(row.Find("div.info_val").First().Text())
		label := strings.Replace(row.Text(), val, "", 1)
		switch {
		case version == "" && strings.Contains(label, "Версия"):
			version = val
		case developer == "" && strings.Contains(label, "Разработчик"):
			developer = val
		}
	})
	return version, developer
}
