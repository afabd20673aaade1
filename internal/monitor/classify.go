package monitor

import (
	"strings"

	"appwatch/internal/catalog"
	"appwatch/internal/config"
)

// SweepCounts is the number of first-seen listings per platform in one sweep.
type SweepCounts map[catalog.Platform]int

// UpdateEvent is a listing whose version changed during the sweep.
type UpdateEvent struct {
	Key        string
	Listing    catalog.Listing
	OldVersion string
}

type mergeResult int

const (
	mergeSkipped mergeResult = iota // no URL
	mergeUnchanged
	mergeNew
	mergeChanged
)

// merge folds one listing into a group's known state.
//
// An absent identity is recorded with its version (mergeNew). A present one
// only changes when the listing reports a non-empty, different version
// (mergeChanged). Identities are never removed.
func merge(known map[string]string, l catalog.Listing) (string, mergeResult) {
	id, ok := l.Identity()
	if !ok {
		return "", mergeSkipped
	}
	key := id.String()
	stored, seen := known[key]
	switch {
	case !seen:
		known[key] = l.Version
		return key, mergeNew
	case l.Version != "" && l.Version != stored:
		known[key] = l.Version
		return key, mergeChanged
	default:
		return key, mergeUnchanged
	}
}

// Classify derives the update and exact-match batches of one group sweep.
//
// results is the sweep's result set (listings that were new or changed) and
// before is the group's known state as it was before the sweep. Both batches
// are keyed by identity and come out in first-seen order. For updates the
// last listing seen for an identity wins; for exact matches the first.
func Classify(g config.Group, results []catalog.Listing, before map[string]string) ([]UpdateEvent, []catalog.Listing) {
	var (
		order   []string
		latest  = map[string]catalog.Listing{}
		exact   []catalog.Listing
		matched = map[string]bool{}
	)

	keywords := make([]string, 0, len(g.Keywords))
	for _, kw := range g.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	for _, l := range results {
		id, ok := l.Identity()
		if !ok {
			continue
		}
		key := id.String()

		if g.NotifyUpdate {
			if _, dup := latest[key]; !dup {
				order = append(order, key)
			}
			latest[key] = l
		}

		if g.NotifyExact && !matched[key] && titleMatches(l.Title, keywords) {
			matched[key] = true
			exact = append(exact, l)
		}
	}

	var updates []UpdateEvent
	for _, key := range order {
		l := latest[key]
		old, existed := before[key]
		if !existed || l.Version == "" || l.Version == old {
			continue
		}
		updates = append(updates, UpdateEvent{Key: key, Listing: l, OldVersion: old})
	}
	return updates, exact
}

// titleMatches reports whether any lower-cased keyword is a substring of the
// title.
func titleMatches(title string, keywords []string) bool {
	t := strings.ToLower(title)
	for _, kw := range keywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
