package googleplay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"appwatch/internal/catalog"
	"appwatch/internal/catalog/httpx"
	logx "appwatch/pkg/logx"
)

const searchHTML = `<html><body>
<div>
  <a href="/store/apps/details?id=ru.sberbankmobile"><div><span>СберБанк Онлайн</span><span>Sberbank of Russia</span></div></a>
  <a href="/store/apps/details?id=ru.sberbankmobile"><img src="x"></a>
  <a href="/store/apps/details?id=com.idamob.tinkoff.android"><span>Т-Банк</span></a>
  <a href="/store/apps/details?id=com.empty"></a>
</div>
</body></html>`

const detailsSber = `<html><body>
<div><div>Текущая версия</div><span>15.3.0</span></div>
</body></html>`

const detailsTinkoff = `<html><body><span itemprop="softwareVersion"> 6.40 </span></body></html>`

func TestSearchScrapesListingsAndVersions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/store/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "банк" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		_, _ = w.Write([]byte(searchHTML))
	})
	mux.HandleFunc("/store/apps/details", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "ru.sberbankmobile":
			_, _ = w.Write([]byte(detailsSber))
		case "com.idamob.tinkoff.android":
			_, _ = w.Write([]byte(detailsTinkoff))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(httpx.New(httpx.Config{}, logx.Nop()), WithBaseURL(srv.URL))
	res, err := a.Search(context.Background(), "банк", 8, "")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(res), res)
	}

	sber := res[0]
	if sber.Platform != catalog.GooglePlay || sber.Title != "СберБанк Онлайн" || sber.Developer != "Sberbank of Russia" {
		t.Fatalf("unexpected listing: %+v", sber)
	}
	if sber.URL != "https://play.google.com/store/apps/details?id=ru.sberbankmobile" {
		t.Fatalf("URL = %s", sber.URL)
	}
	if sber.Version != "15.3.0" {
		t.Fatalf("Version = %q", sber.Version)
	}
	if res[1].Version != "6.40" || res[1].Developer != "" {
		t.Fatalf("unexpected listing: %+v", res[1])
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/store/search" {
			_, _ = w.Write([]byte(searchHTML))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := New(httpx.New(httpx.Config{}, logx.Nop()), WithBaseURL(srv.URL))
	res, err := a.Search(context.Background(), "x", 1, "")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res) != 1 || res[0].Version != "" {
		t.Fatalf("res = %+v", res)
	}
}

func TestParseVersionRegexFallback(t *testing.T) {
	body := []byte(`<p>Текущая версия: <b>2.0.1</b></p>`)
	if got := parseVersion(body); got != "2.0.1" {
		t.Fatalf("parseVersion = %q", got)
	}
}
