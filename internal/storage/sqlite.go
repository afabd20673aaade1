package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "appwatch/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

// sqlStore is the database/sql backend. It is opened on SQLite; the queries
// stick to the upsert dialect SQLite shares with Postgres.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger

	retention  int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the monitor loop is the only one anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := newSQLStore(db, log, retention(cfg))
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func newSQLStore(db *sql.DB, log logx.Logger, keep int) *sqlStore {
	if keep <= 0 {
		keep = DefaultSweepRetention
	}
	return &sqlStore{db: db, log: log, retention: keep, pruneEvery: 50}
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) LoadKnown(ctx context.Context) (KnownState, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT grp, ident, version FROM known`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	k := KnownState{}
	for rows.Next() {
		var grp, ident, version string
		if err := rows.Scan(&grp, &ident, &version); err != nil {
			return nil, err
		}
		k.Group(grp)[ident] = version
	}
	return k, rows.Err()
}

func (s *sqlStore) SaveKnown(ctx context.Context, k KnownState) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO known(grp, ident, version) VALUES(?,?,?)
		 ON CONFLICT(grp, ident) DO UPDATE SET version=excluded.version`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for grp, m := range k {
		for ident, version := range m {
			if _, err = stmt.ExecContext(ctx, grp, ident, version); err != nil {
				return fmt.Errorf("save known %s: %w", grp, err)
			}
		}
	}
	return tx.Commit()
}

func (s *sqlStore) LoadStats(ctx context.Context) (GlobalStats, error) {
	if s == nil || s.db == nil {
		return NewGlobalStats(), ErrDisabled
	}
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM stats WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return NewGlobalStats(), nil
	}
	if err != nil {
		return NewGlobalStats(), err
	}
	var st GlobalStats
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return NewGlobalStats(), fmt.Errorf("decode stats: %w", err)
	}
	st.Normalize()
	return st, nil
}

func (s *sqlStore) SaveStats(ctx context.Context, st GlobalStats) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	st.Normalize()
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stats(id, body) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET body=excluded.body`, string(body))
	return err
}

func (s *sqlStore) AppendSweep(ctx context.Context, r SweepRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	results, err := json.Marshal(r.Results)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sweeps(id, grp, at, results) VALUES(?,?,?,?)`,
		r.ID, r.Group, r.At.UTC().Format(time.RFC3339Nano), string(results))
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("sweep prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqlStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sweeps WHERE seq <= (SELECT MAX(seq) FROM sweeps) - ?`, s.retention)
	return err
}

func (s *sqlStore) RecentSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, grp, at, results FROM sweeps ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SweepRecord
	for rows.Next() {
		var (
			r       SweepRecord
			at, raw string
		)
		if err := rows.Scan(&r.ID, &r.Group, &at, &raw); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		if err := json.Unmarshal([]byte(raw), &r.Results); err != nil {
			s.log.Warn("skipping undecodable sweep", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
