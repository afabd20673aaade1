package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "appwatch/pkg/logx"
)

// fileStore keeps everything next to the configured path.
//
// Files:
//   - <prefix>.known.json   (snapshot, replaced atomically)
//   - <prefix>.stats.json   (snapshot, replaced atomically)
//   - <prefix>.sweeps.jsonl (append-only JSON Lines)
//
// The sweep log is compacted to the retention limit once it has grown past
// twice that many lines.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	knownPath  string
	statsPath  string
	sweepsPath string
	sweeps     *os.File
	sweepLines int
	retention  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:        log,
		knownPath:  prefix + ".known.json",
		statsPath:  prefix + ".stats.json",
		sweepsPath: prefix + ".sweeps.jsonl",
		retention:  retention(cfg),
	}
	recs, err := readSweeps(s.sweepsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("sweep log unreadable, starting fresh", logx.Err(err))
	}
	s.sweepLines = len(recs)

	f, err := os.OpenFile(s.sweepsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.sweeps = f
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweeps == nil {
		return nil
	}
	err := s.sweeps.Close()
	s.sweeps = nil
	return err
}

func (s *fileStore) LoadKnown(ctx context.Context) (KnownState, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	k := KnownState{}
	if err := readJSON(s.knownPath, &k); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return KnownState{}, nil
		}
		return KnownState{}, err
	}
	if k == nil {
		k = KnownState{}
	}
	return k, nil
}

func (s *fileStore) SaveKnown(ctx context.Context, k KnownState) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if k == nil {
		k = KnownState{}
	}
	return writeJSON(s.knownPath, k)
}

func (s *fileStore) LoadStats(ctx context.Context) (GlobalStats, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var st GlobalStats
	if err := readJSON(s.statsPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return NewGlobalStats(), err
	}
	st.Normalize()
	return st, nil
}

func (s *fileStore) SaveStats(ctx context.Context, st GlobalStats) error {
	_ = ctx
	st.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.statsPath, st)
}

func (s *fileStore) AppendSweep(ctx context.Context, r SweepRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweeps == nil {
		return errors.New("sweep log closed")
	}
	if err := json.NewEncoder(s.sweeps).Encode(r); err != nil {
		return err
	}
	s.sweepLines++
	if s.sweepLines > 2*s.retention {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("sweep log compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := readSweeps(s.sweepsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]SweepRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, recs[i])
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	recs, err := readSweeps(s.sweepsPath)
	if err != nil {
		return err
	}
	if len(recs) > s.retention {
		recs = recs[len(recs)-s.retention:]
	}

	tmp := s.sweepsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.sweeps.Close(); err != nil {
		return err
	}
	s.sweeps = nil
	if err := os.Rename(tmp, s.sweepsPath); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.sweepsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.sweeps = nf
	s.sweepLines = len(recs)
	return nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func writeJSON(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readSweeps(path string) ([]SweepRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []SweepRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		var r SweepRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
