// Package storage persists what the monitor has seen between restarts:
//
//   - known state: per group, identity key -> last observed version
//   - global stats: cumulative counters across sweeps
//   - the sweep log: raw results of recent group sweeps
//
// Drivers: file (JSON snapshots + JSON Lines), sqlite, postgres, redis.
package storage
