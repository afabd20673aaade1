package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "appwatch/pkg/logx"
)

const defaultKeyPrefix = "appwatch"

// redisStore layout:
//
//	<prefix>:groups        set of group names with known state
//	<prefix>:known:<group> hash identity -> version
//	<prefix>:stats         JSON GlobalStats
//	<prefix>:sweeps        list of JSON SweepRecord, newest first
type redisStore struct {
	rdb       redis.UniversalClient
	log       logx.Logger
	prefix    string
	retention int
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis storage ready", logx.String("addr", addr), logx.Int("db", cfg.DB))
	return newRedisStore(rdb, cfg.KeyPrefix, retention(cfg), log), nil
}

func newRedisStore(rdb redis.UniversalClient, prefix string, keep int, log logx.Logger) *redisStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if keep <= 0 {
		keep = DefaultSweepRetention
	}
	return &redisStore{rdb: rdb, log: log, prefix: prefix, retention: keep}
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) LoadKnown(ctx context.Context) (KnownState, error) {
	groups, err := s.rdb.SMembers(ctx, s.key("groups")).Result()
	if err != nil {
		return nil, err
	}
	k := KnownState{}
	for _, g := range groups {
		m, err := s.rdb.HGetAll(ctx, s.key("known", g)).Result()
		if err != nil {
			return nil, fmt.Errorf("load known %s: %w", g, err)
		}
		k[g] = m
	}
	return k, nil
}

func (s *redisStore) SaveKnown(ctx context.Context, k KnownState) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for g, m := range k {
			p.SAdd(ctx, s.key("groups"), g)
			if len(m) == 0 {
				continue
			}
			vals := make(map[string]any, len(m))
			for id, v := range m {
				vals[id] = v
			}
			p.HSet(ctx, s.key("known", g), vals)
		}
		return nil
	})
	return err
}

func (s *redisStore) LoadStats(ctx context.Context) (GlobalStats, error) {
	raw, err := s.rdb.Get(ctx, s.key("stats")).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewGlobalStats(), nil
	}
	if err != nil {
		return NewGlobalStats(), err
	}
	var st GlobalStats
	if err := json.Unmarshal(raw, &st); err != nil {
		return NewGlobalStats(), fmt.Errorf("decode stats: %w", err)
	}
	st.Normalize()
	return st, nil
}

func (s *redisStore) SaveStats(ctx context.Context, st GlobalStats) error {
	st.Normalize()
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("stats"), raw, 0).Err()
}

func (s *redisStore) AppendSweep(ctx context.Context, r SweepRecord) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.key("sweeps"), raw)
		p.LTrim(ctx, s.key("sweeps"), 0, int64(s.retention-1))
		return nil
	})
	return err
}

func (s *redisStore) RecentSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}
	items, err := s.rdb.LRange(ctx, s.key("sweeps"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]SweepRecord, 0, len(items))
	for _, it := range items {
		var r SweepRecord
		if err := json.Unmarshal([]byte(it), &r); err != nil {
			s.log.Warn("skipping undecodable sweep", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
