package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SampleIndex stores samples in a local SQLite database for offline
// querying. Writes go through a background goroutine so the control loop
// never waits on disk; when the queue fills, samples are dropped and the
// JSONL log stays the source of truth.
type SampleIndex struct {
	db *sql.DB

	ch   chan Sample
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

func OpenSampleIndex(path string) (*SampleIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SampleIndex{
		db: db,
		ch: make(chan Sample, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only sample stream.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS samples (
			ts INTEGER PRIMARY KEY,
			tps REAL NOT NULL,
			mspt REAL NOT NULL,
			loaded_chunks INTEGER NOT NULL,
			hot_regions INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			world_chunks TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_hot ON samples(hot_regions, ts);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SampleIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SampleIndex) WriteSample(sample Sample) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- sample:
	default:
		// Indexer fell behind; drop.
	}
	return nil
}

// SampleCount reports the number of indexed rows. Used by diagnostics
// and tests; not on the hot path.
func (s *SampleIndex) SampleCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&n)
	return n, err
}

// SamplesSince returns the indexed samples with ts >= since (unix
// millis), oldest first.
func (s *SampleIndex) SamplesSince(since int64) ([]Sample, error) {
	rows, err := s.db.Query(
		`SELECT ts,tps,mspt,loaded_chunks,hot_regions,agents,world_chunks FROM samples WHERE ts >= ? ORDER BY ts`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		var wc string
		if err := rows.Scan(&sm.TS, &sm.Tps, &sm.Mspt, &sm.LoadedChunks, &sm.HotRegions, &sm.Agents, &wc); err != nil {
			return nil, err
		}
		if wc != "" && wc != "null" {
			_ = json.Unmarshal([]byte(wc), &sm.WorldChunks)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SampleIndex) loop() {
	ctx := context.Background()

	insert, _ := s.db.Prepare(
		`INSERT OR REPLACE INTO samples(ts,tps,mspt,loaded_chunks,hot_regions,agents,world_chunks) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 64
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for sm := range s.ch {
		begin()
		if tx == nil || insert == nil {
			continue
		}
		wc, _ := json.Marshal(sm.WorldChunks)
		if _, err := tx.Stmt(insert).Exec(
			sm.TS, sm.Tps, sm.Mspt, sm.LoadedChunks, sm.HotRegions, sm.Agents, string(wc),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
