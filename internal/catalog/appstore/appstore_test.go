package appstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"appwatch/internal/catalog"
	"appwatch/internal/catalog/httpx"
	logx "appwatch/pkg/logx"
)

const fixture = `{
  "resultCount": 2,
  "results": [
    {"trackName": "Sber Online", "artistName": "Sberbank", "trackViewUrl": "https://apps.apple.com/app/id1", "version": "15.2", "averageUserRating": 4.71},
    {"trackName": "Other", "artistName": "X", "trackViewUrl": "https://apps.apple.com/app/id2", "version": ""}
  ]
}`

func TestSearchParsesResults(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	a := New(httpx.New(httpx.Config{}, logx.Nop()), WithBaseURL(srv.URL))
	res, err := a.Search(context.Background(), "sber bank", 8, "")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if gotQuery != "country=US&limit=8&media=software&term=sber+bank" {
		t.Fatalf("query = %s", gotQuery)
	}
	if len(res) != 2 {
		t.Fatalf("len = %d, want 2", len(res))
	}
	first := res[0]
	if first.Platform != catalog.AppStore || first.Title != "Sber Online" || first.Developer != "Sberbank" ||
		first.URL != "https://apps.apple.com/app/id1" || first.Version != "15.2" || first.Rating != "4.7" {
		t.Fatalf("unexpected listing: %+v", first)
	}
	if res[1].Rating != "" || res[1].Keyword != "sber bank" {
		t.Fatalf("unexpected listing: %+v", res[1])
	}
}

func TestParseEmptyBody(t *testing.T) {
	if got := parse([]byte(`{}`), "k"); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}
