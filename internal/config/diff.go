package config

import (
	"reflect"
	"sort"
	"strings"

	logx "appwatch/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes tokens or passwords),
// and (3) the names of groups that were added, removed or edited.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	groups := diffGroups(oldCfg.Groups, newCfg.Groups)
	if len(groups) > 0 {
		changed = append(changed, "groups")
		attrs = append(attrs,
			logx.Int("groups.count", len(newCfg.Groups)),
			logx.Int("groups.changed_count", len(groups)),
		)
	}

	if !sameEndpoints(oldCfg.Endpoints, newCfg.Endpoints) {
		changed = append(changed, "endpoints")
		attrs = append(attrs, logx.Int("endpoints.count", len(newCfg.Endpoints)))
	}

	if oldCfg.CycleInterval != newCfg.CycleInterval ||
		!reflect.DeepEqual(oldCfg.DelayRange, newCfg.DelayRange) ||
		oldCfg.Interval != newCfg.Interval {
		changed = append(changed, "timing")
		lo, hi := newCfg.Delay()
		attrs = append(attrs,
			logx.String("cycle_interval", string(newCfg.CycleInterval)),
			logx.Duration("delay.min", lo),
			logx.Duration("delay.max", hi),
		)
	}

	if !reflect.DeepEqual(oldCfg.Platforms, newCfg.Platforms) {
		changed = append(changed, "platforms")
	}

	// Proxy URLs can carry credentials; only report presence.
	if strings.TrimSpace(oldCfg.Proxy) != strings.TrimSpace(newCfg.Proxy) {
		changed = append(changed, "proxy")
		attrs = append(attrs, logx.Bool("proxy.set", strings.TrimSpace(newCfg.Proxy) != ""))
	}

	if oldCfg.NotifyErrors != newCfg.NotifyErrors || refString(oldCfg.ErrorEndpoint) != refString(newCfg.ErrorEndpoint) {
		changed = append(changed, "errors")
		attrs = append(attrs,
			logx.Bool("notify_errors", newCfg.NotifyErrors),
			logx.String("error_endpoint", refString(newCfg.ErrorEndpoint)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
			)
		}
	}

	var oDriver, nDriver string
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.driver_changed", oDriver != nDriver),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		if h := newCfg.HTTP; h != nil {
			attrs = append(attrs,
				logx.Bool("http.enabled", h.Enabled),
				logx.String("http.addr", strings.TrimSpace(h.Addr)),
				logx.Bool("http.token_set", strings.TrimSpace(h.Token) != ""),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Control, newCfg.Control) {
		changed = append(changed, "control")
	}
	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) || !reflect.DeepEqual(oldCfg.HTTPClient, newCfg.HTTPClient) {
		changed = append(changed, "fetch")
	}

	sort.Strings(changed)
	return changed, attrs, groups
}

func refString(r *EndpointRef) string {
	if r == nil {
		return ""
	}
	return r.String()
}

func sameEndpoints(a, b []Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diffGroups(oldG, newG []Group) []string {
	oldM := make(map[string]Group, len(oldG))
	for _, g := range oldG {
		oldM[g.Name] = g
	}
	newM := make(map[string]Group, len(newG))
	for _, g := range newG {
		newM[g.Name] = g
	}

	out := make([]string, 0)
	for name, n := range newM {
		o, ok := oldM[name]
		if !ok || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
