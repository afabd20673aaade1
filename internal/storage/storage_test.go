package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"appwatch/internal/catalog"
	logx "appwatch/pkg/logx"
)

func sampleSweep(id, group string) SweepRecord {
	return SweepRecord{
		ID:    id,
		Group: group,
		At:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Results: []catalog.Listing{{
			Platform: catalog.GooglePlay,
			Keyword:  "bank",
			Title:    "Bank App",
			URL:      "https://play.google.com/store/apps/details?id=x",
			Version:  "1.2.3",
		}},
	}
}

// exerciseStore runs the behaviour every driver must share.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	k, err := st.LoadKnown(ctx)
	if err != nil || len(k) != 0 {
		t.Fatalf("initial LoadKnown = %v, %v", k, err)
	}
	stats, err := st.LoadStats(ctx)
	if err != nil || stats.Total != 0 || len(stats.PerPlatform) != len(catalog.Order) {
		t.Fatalf("initial LoadStats = %+v, %v", stats, err)
	}

	known := KnownState{"G1": {"Google Play::u1": "1.0", "App Store::u2": ""}}
	if err := st.SaveKnown(ctx, known); err != nil {
		t.Fatalf("SaveKnown: %v", err)
	}
	known["G1"]["Google Play::u1"] = "1.1"
	if err := st.SaveKnown(ctx, known); err != nil {
		t.Fatalf("SaveKnown: %v", err)
	}
	got, err := st.LoadKnown(ctx)
	if err != nil {
		t.Fatalf("LoadKnown: %v", err)
	}
	if got["G1"]["Google Play::u1"] != "1.1" || len(got["G1"]) != 2 {
		t.Fatalf("LoadKnown = %v", got)
	}

	stats.PerPlatform[catalog.GooglePlay] = 3
	stats.PerPlatform[catalog.RuStore] = 2
	stats.Total = 999
	stats.New = 4
	stats.AvgKeywordTime = 1.5
	if err := st.SaveStats(ctx, stats); err != nil {
		t.Fatalf("SaveStats: %v", err)
	}
	stats, err = st.LoadStats(ctx)
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}
	if stats.Total != 5 || stats.New != 4 || stats.AvgKeywordTime != 1.5 {
		t.Fatalf("LoadStats = %+v", stats)
	}

	for i := 0; i < 3; i++ {
		if err := st.AppendSweep(ctx, sampleSweep(fmt.Sprintf("s%d", i), "G1")); err != nil {
			t.Fatalf("AppendSweep: %v", err)
		}
	}
	recs, err := st.RecentSweeps(ctx, 2)
	if err != nil {
		t.Fatalf("RecentSweeps: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "s2" || recs[1].ID != "s1" {
		t.Fatalf("RecentSweeps = %+v", recs)
	}
	if len(recs[0].Results) != 1 || recs[0].Results[0].Version != "1.2.3" {
		t.Fatalf("sweep results = %+v", recs[0].Results)
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: " none "}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("Open(none) = %v, %v", st, err)
	}
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestDisabledStore(t *testing.T) {
	var st Store = Disabled{}
	if _, err := st.RecentSweeps(context.Background(), 5); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RecentSweeps err = %v", err)
	}
	s, _ := st.LoadStats(context.Background())
	if len(s.PerPlatform) != len(catalog.Order) {
		t.Fatalf("stats platforms = %d", len(s.PerPlatform))
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(dir, "state", "appwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)

	if _, err := os.Stat(filepath.Join(dir, "state", "appwatch.known.json")); err != nil {
		t.Fatalf("known snapshot missing: %v", err)
	}
}

func TestFileStoreCompactsSweepLog(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(dir, "a.json"), Retention: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := st.AppendSweep(context.Background(), sampleSweep(fmt.Sprintf("s%d", i), "G")); err != nil {
			t.Fatalf("AppendSweep: %v", err)
		}
	}
	_ = st.Close()

	recs, err := readSweeps(filepath.Join(dir, "a.sweeps.jsonl"))
	if err != nil {
		t.Fatalf("readSweeps: %v", err)
	}
	// compaction at the 5th append keeps the last two
	if len(recs) != 2 || recs[0].ID != "s3" || recs[1].ID != "s4" {
		t.Fatalf("compacted log = %+v", recs)
	}
}

func TestSQLiteStore(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "appwatch.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestSQLSaveKnownCommitsTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	st := newSQLStore(db, logx.Nop(), 0)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO known(grp, ident, version)"))
	prep.ExpectExec().WithArgs("G1", "RuStore::u", "2.0").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := st.SaveKnown(context.Background(), KnownState{"G1": {"RuStore::u": "2.0"}}); err != nil {
		t.Fatalf("SaveKnown: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLSaveKnownRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	st := newSQLStore(db, logx.Nop(), 0)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO known(grp, ident, version)"))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = st.SaveKnown(context.Background(), KnownState{"G1": {"RuStore::u": "2.0"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLLoadStatsEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	st := newSQLStore(db, logx.Nop(), 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM stats")).WillReturnRows(sqlmock.NewRows([]string{"body"}))
	stats, err := st.LoadStats(context.Background())
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}
	if stats.Total != 0 || len(stats.PerPlatform) != len(catalog.Order) {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := newRedisStore(rdb, "test:", 10, logx.Nop())
	defer st.Close()

	exerciseStore(t, st)

	if !mr.Exists("test:known:G1") {
		t.Fatalf("expected hash key test:known:G1")
	}
}

func TestRedisStoreTrimsSweeps(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := newRedisStore(rdb, "", 2, logx.Nop())
	defer st.Close()

	for i := 0; i < 4; i++ {
		if err := st.AppendSweep(context.Background(), sampleSweep(fmt.Sprintf("s%d", i), "G")); err != nil {
			t.Fatalf("AppendSweep: %v", err)
		}
	}
	recs, err := st.RecentSweeps(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentSweeps: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "s3" {
		t.Fatalf("RecentSweeps = %+v", recs)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("APPWATCH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("APPWATCH_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	pg := st.(*pgStore)
	if _, err := pg.pool.Exec(ctx, `TRUNCATE appwatch_known, appwatch_stats, appwatch_sweeps`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseStore(t, st)
}

func TestKnownStateClone(t *testing.T) {
	k := KnownState{"G": {"a": "1"}}
	c := k.Clone()
	c["G"]["a"] = "2"
	c.Group("H")["b"] = ""
	if k["G"]["a"] != "1" || len(k) != 1 {
		t.Fatalf("clone aliased original: %v", k)
	}
}
