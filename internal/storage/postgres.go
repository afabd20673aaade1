package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "appwatch/pkg/logx"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS appwatch_known (
  grp     TEXT NOT NULL,
  ident   TEXT NOT NULL,
  version TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (grp, ident)
);
CREATE TABLE IF NOT EXISTS appwatch_stats (
  id   SMALLINT PRIMARY KEY CHECK (id = 1),
  body JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS appwatch_sweeps (
  seq     BIGSERIAL PRIMARY KEY,
  id      TEXT NOT NULL,
  grp     TEXT NOT NULL,
  at      TIMESTAMPTZ NOT NULL,
  results JSONB NOT NULL
);`

const pgBatchSize = 500

type pgStore struct {
	pool      *pgxpool.Pool
	log       logx.Logger
	retention int
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 2
	}
	pcfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres storage ready", logx.Int("max_conns", maxConns))
	return &pgStore{pool: pool, log: log, retention: retention(cfg)}, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) LoadKnown(ctx context.Context) (KnownState, error) {
	rows, err := s.pool.Query(ctx, `SELECT grp, ident, version FROM appwatch_known`)
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

// SaveKnown upserts in batches of pgBatchSize statements.
func (s *pgStore) SaveKnown(ctx context.Context, k KnownState) error {
	b := &pgx.Batch{}
	flush := func() error {
		if b.Len() == 0 {
			return nil
		}
		n := b.Len()
		br := s.pool.SendBatch(ctx, b)
		for i := 0; i < n; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		b = &pgx.Batch{}
		return br.Close()
	}
	for grp, m := range k {
		for ident, version := range m {
			b.Queue(`INSERT INTO appwatch_known(grp, ident, version) VALUES($1,$2,$3)
				ON CONFLICT (grp, ident) DO UPDATE SET version = EXCLUDED.version`, grp, ident, version)
			if b.Len() >= pgBatchSize {
				if err := flush(); err != nil {
					return fmt.Errorf("save known: %w", err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("save known: %w", err)
	}
	return nil
}

func (s *pgStore) LoadStats(ctx context.Context) (GlobalStats, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM appwatch_stats WHERE id = 1`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return NewGlobalStats(), nil
	}
	if err != nil {
		return NewGlobalStats(), err
	}
	var st GlobalStats
	if err := json.Unmarshal(body, &st); err != nil {
		return NewGlobalStats(), fmt.Errorf("decode stats: %w", err)
	}
	st.Normalize()
	return st, nil
}

func (s *pgStore) SaveStats(ctx context.Context, st GlobalStats) error {
	st.Normalize()
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO appwatch_stats(id, body) VALUES(1, $1)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body`, body)
	return err
}

func (s *pgStore) AppendSweep(ctx context.Context, r SweepRecord) error {
	results, err := json.Marshal(r.Results)
	if err != nil {
		return err
	}
	b := &pgx.Batch{}
	b.Queue(`INSERT INTO appwatch_sweeps(id, grp, at, results) VALUES($1,$2,$3,$4)`, r.ID, r.Group, r.At, results)
	b.Queue(`DELETE FROM appwatch_sweeps WHERE seq <= (SELECT MAX(seq) FROM appwatch_sweeps) - $1`, s.retention)
	return s.pool.SendBatch(ctx, b).Close()
}

func (s *pgStore) RecentSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, grp, at, results FROM appwatch_sweeps ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SweepRecord
	for rows.Next() {
		var (
			r   SweepRecord
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Group, &r.At, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &r.Results); err != nil {
			s.log.Warn("skipping undecodable sweep", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
