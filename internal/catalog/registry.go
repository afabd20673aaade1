package catalog

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	logx "appwatch/pkg/logx"
)

// Registry holds at most one adapter per platform.
type Registry struct {
	adapters map[Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Platform().
func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.adapters[a.Platform()] = a
}

func (r *Registry) Get(p Platform) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[p]
	return a, ok
}

// Platforms returns registered platforms in invocation order.
func (r *Registry) Platforms() []Platform {
	out := make([]Platform, 0, len(Order))
	for _, p := range Order {
		if _, ok := r.Get(p); ok {
			out = append(out, p)
		}
	}
	return out
}

// Safe calls a.Search and never fails. Errors and panics are logged. A panic
// yields no listings; an error keeps whatever partial results came with it.
// Listings are stamped with the platform and keyword when the adapter left
// them blank, and capped at limit.
func Safe(ctx context.Context, log logx.Logger, a Adapter, keyword string, limit int, proxy string) (out []Listing) {
	if a == nil {
		return nil
	}
	p := a.Platform()
	log = log.With(logx.String("platform", string(p)), logx.String("keyword", keyword))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("catalog adapter panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out = nil
		}
	}()

	res, err := a.Search(ctx, keyword, limit, proxy)
	if err != nil {
		log.Warn("catalog search failed", logx.Err(err), logx.Int("partial", len(res)), logx.Duration("took", time.Since(start)))
		if len(res) == 0 {
			return nil
		}
	}

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	for i := range res {
		if res[i].Platform == "" {
			res[i].Platform = p
		}
		if res[i].Keyword == "" {
			res[i].Keyword = keyword
		}
		res[i].Title = strings.TrimSpace(res[i].Title)
		res[i].URL = strings.TrimSpace(res[i].URL)
	}
	log.Debug("catalog search done", logx.Int("results", len(res)), logx.Duration("took", time.Since(start)))
	return res
}

// StatusError is returned by fetchers for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}
