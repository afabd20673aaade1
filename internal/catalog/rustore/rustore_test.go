package rustore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"appwatch/internal/catalog/httpx"
	logx "appwatch/pkg/logx"
)

const searchHTML = `<html><body>
<a href="/catalog/app/ru.sber"><div class="card">
  <p itemprop="name">СберБанк Онлайн</p>
  <p itemprop="description">Банк в телефоне</p>
  <span data-testid="rating">4.8</span>
</div></a>
<div class="card">
  <p itemprop="name">Мой Банк</p>
  <p itemprop="description">Другой банк</p>
  <a href="/catalog/app/ru.my.bank">open</a>
</div>
<a href="/catalog/app/ru.sber"><div class="card">
  <p itemprop="name">СберБанк Онлайн</p>
  <p itemprop="description">Банк в телефоне</p>
  <span data-testid="rating">4.8</span>
</div></a>
</body></html>`

func TestSearchParsesCards(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchHTML))
	})
	mux.HandleFunc("/catalog/app/ru.sber", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<div><span itemprop="softwareVersion">16.1.0</span></div>`))
	})
	mux.HandleFunc("/catalog/app/ru.my.bank", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<div><p>Версия: 3.2.1</p></div>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(httpx.New(httpx.Config{}, logx.Nop()), WithBaseURL(srv.URL))
	res, err := a.Search(context.Background(), "банк", 20, "")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("len = %d, want 2 (duplicate card dropped): %+v", len(res), res)
	}

	sber := res[0]
	if sber.Title != "СберБанк Онлайн" || sber.Description != "Банк в телефоне" || sber.Rating != "4.8" {
		t.Fatalf("unexpected listing: %+v", sber)
	}
	if sber.URL != "https://apps.rustore.ru/catalog/app/ru.sber" || sber.Version != "16.1.0" {
		t.Fatalf("unexpected listing: %+v", sber)
	}
	if res[1].URL != "https://apps.rustore.ru/catalog/app/ru.my.bank" || res[1].Version != "3.2.1" {
		t.Fatalf("unexpected listing: %+v", res[1])
	}
}

func TestParseVersionNone(t *testing.T) {
	if got := parseVersion([]byte(`<p>no version here</p>`)); got != "" {
		t.Fatalf("parseVersion = %q", got)
	}
}
