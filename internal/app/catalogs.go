package app

import (
	"appwatch/internal/catalog"
	"appwatch/internal/catalog/appstore"
	"appwatch/internal/catalog/googleplay"
	"appwatch/internal/catalog/headless"
	"appwatch/internal/catalog/httpx"
	"appwatch/internal/catalog/rustore"
	"appwatch/internal/config"
	logx "appwatch/pkg/logx"
)

// buildCatalogs registers one adapter per platform. The browser is started
// lazily by the first headless search; the caller closes it on shutdown.
func buildCatalogs(cfg *config.Config, log logx.Logger) (*catalog.Registry, *headless.Browser, error) {
	hc, err := mapHTTPClientConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	bc, err := mapBrowserConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	client := httpx.New(hc, log.With(logx.String("comp", "httpx")))
	browser := headless.NewBrowser(bc, log)

	reg := catalog.NewRegistry(
		googleplay.New(client),
		appstore.New(client),
		rustore.New(client),
		headless.NewXiaomiGlobal(browser),
		headless.NewXiaomiGetApps(browser),
		headless.NewGalaxy(browser),
		headless.NewHuawei(browser),
	)
	return reg, browser, nil
}
