// Package monitor is the incremental change-detection engine.
//
// One background loop sweeps every enabled group: for each keyword it calls
// the catalog adapters one after another with a randomized pause between
// calls, merges the results into the group's known state, and reports
// listings that are new, changed version, or match a keyword exactly. After
// every group the lifetime stats are folded and persisted; after every cycle
// the known state is persisted and the loop waits for the next cycle.
//
// The loop is the only writer of known state and stats.
package monitor
