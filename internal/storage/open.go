package storage

import (
	"context"
	"errors"
	"strings"

	logx "appwatch/pkg/logx"
)

// Store is the persistence API used by the monitor.
//
// LoadKnown and LoadStats return empty values (not errors) when nothing has
// been stored yet. RecentSweeps returns newest first.
type Store interface {
	LoadKnown(ctx context.Context) (KnownState, error)
	SaveKnown(ctx context.Context, k KnownState) error
	LoadStats(ctx context.Context) (GlobalStats, error)
	SaveStats(ctx context.Context, s GlobalStats) error
	AppendSweep(ctx context.Context, r SweepRecord) error
	RecentSweeps(ctx context.Context, limit int) ([]SweepRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Disabled is a Store that keeps nothing. Loads return empty values.
type Disabled struct{}

func (Disabled) LoadKnown(context.Context) (KnownState, error) { return KnownState{}, nil }
func (Disabled) SaveKnown(context.Context, KnownState) error { return nil }
func (Disabled) LoadStats(context.Context) (GlobalStats, error) { return NewGlobalStats(), nil }
func (Disabled) SaveStats(context.Context, GlobalStats) error { return nil }
func (Disabled) AppendSweep(context.Context, SweepRecord) error { return nil }
func (Disabled) Close() error { return nil }
func (Disabled) RecentSweeps(context.Context, int) ([]SweepRecord, error) {
	return nil, ErrDisabled
}
