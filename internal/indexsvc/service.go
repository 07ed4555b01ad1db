// Package indexsvc is the single-writer index service (spec §4.3, C3). It
// owns the in-memory HNSW graph (internal/vectorindex) and the durable
// {path, embedding, updated_at} table, and is the only component allowed
// to mutate either. All public methods are serialized through one actor
// goroutine; embeddings are computed before a request enters the actor so
// high-latency calls never hold up a concurrent reader (spec §5).
package indexsvc

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/oscillatelabsllc/memoria/internal/embedding"
	"github.com/oscillatelabsllc/memoria/internal/vectorindex"
)

// halfLife is the time-weighted ranking half-life (spec §4.3).
const halfLife = 30 * 24 * time.Hour

// Embedder is the subset of internal/embedding.Client that indexsvc needs;
// expressed as an interface so tests can substitute a deterministic fake
// instead of calling out to a real embedding endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Result, error)
	Dim() int
}

// SearchResult is a single ranked hit.
type SearchResult struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Stats summarizes the current index.
type Stats struct {
	IndexedFiles int `json:"indexed_files"`
	IndexSize    int `json:"index_size"`
}

// Service is the index service actor.
type Service struct {
	db       *sql.DB
	embedder Embedder
	dim      int

	idx       *vectorindex.Index
	updatedAt map[string]int64 // path -> epoch ms, actor-owned

	jobs chan func()
	done chan struct{}
}

// NewService opens (or creates) the embedding table at dbPath, warms the
// in-memory HNSW graph from it, and starts the single-writer actor.
// Warm-up runs synchronously so the first request is answered against a
// fully populated index, per spec §5.
func NewService(ctx context.Context, dbPath string, embedder Embedder) (*Service, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("indexsvc: open database: %w", err)
	}

	s := &Service{
		db:        db,
		embedder:  embedder,
		dim:       embedder.Dim(),
		idx:       vectorindex.New(embedder.Dim()),
		updatedAt: make(map[string]int64),
		jobs:      make(chan func()),
		done:      make(chan struct{}),
	}

	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexsvc: ensure table: %w", err)
	}
	if err := s.warmUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexsvc: warm up: %w", err)
	}

	go s.run()
	return s, nil
}

func (s *Service) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS index_embeddings (
			path VARCHAR PRIMARY KEY,
			embedding BLOB NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`)
	return err
}

// warmUp rebuilds the HNSW graph from the persisted table. Rows with a
// corrupt or mismatched-dimension embedding are logged and skipped; the
// service continues rather than failing cold start entirely.
func (s *Service) warmUp(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT path, embedding, updated_at FROM index_embeddings`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type row struct {
		path      string
		embedding []byte
		updatedAt int64
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.path, &r.embedding, &r.updatedAt); err != nil {
			fmt.Fprintf(os.Stderr, "indexsvc: warm-up scan failed, skipping: %v\n", err)
			continue
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range all {
		vec, err := decodeVector(r.embedding)
		if err != nil {
			fmt.Fprintf(os.Stderr, "indexsvc: warm-up decode failed for %q, skipping: %v\n", r.path, err)
			continue
		}
		if err := s.idx.Insert(r.path, vec); err != nil {
			fmt.Fprintf(os.Stderr, "indexsvc: warm-up insert failed for %q, skipping: %v\n", r.path, err)
			continue
		}
		s.updatedAt[r.path] = r.updatedAt
	}
	return nil
}

// run is the single-writer actor loop: every mutating and searching
// operation is a closure executed here, one at a time.
func (s *Service) run() {
	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.done:
			return
		}
	}
}

func (s *Service) do(fn func()) {
	done := make(chan struct{})
	s.jobs <- func() {
		fn()
		close(done)
	}
	<-done
}

// Close stops the actor and closes the database handle.
func (s *Service) Close() error {
	close(s.done)
	return s.db.Close()
}

// Update computes content's embedding, persists {path, vector, now}, and
// upserts it into the HNSW graph (delete-then-insert, so the operation is
// safe even if the caller skipped an explicit prior delete).
func (s *Service) Update(ctx context.Context, path, content string) error {
	result, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("indexsvc: embed %q: %w", path, err)
	}

	now := time.Now().UnixMilli()
	encoded := encodeVector(result.Vector)

	var opErr error
	s.do(func() {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO index_embeddings (path, embedding, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (path) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at
		`, path, encoded, now); err != nil {
			opErr = fmt.Errorf("indexsvc: persist %q: %w", path, err)
			return
		}
		s.idx.Delete(path)
		if err := s.idx.Insert(path, result.Vector); err != nil {
			opErr = fmt.Errorf("indexsvc: insert %q: %w", path, err)
			return
		}
		s.updatedAt[path] = now
	})
	return opErr
}

// Delete removes path's persisted row and graph node. Tolerates absence.
func (s *Service) Delete(ctx context.Context, path string) error {
	var opErr error
	s.do(func() {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM index_embeddings WHERE path = ?`, path); err != nil {
			opErr = fmt.Errorf("indexsvc: delete %q: %w", path, err)
			return
		}
		s.idx.Delete(path)
		delete(s.updatedAt, path)
	})
	return opErr
}

// Search embeds query, runs the HNSW search, and optionally re-ranks by
// recency before truncating to k.
func (s *Service) Search(ctx context.Context, query string, k int, timeWeight bool) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	result, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("indexsvc: embed query: %w", err)
	}

	fetchK := k
	if timeWeight {
		fetchK = 3 * k
	}

	var matches []vectorindex.Match
	var opErr error
	now := time.Now().UnixMilli()
	s.do(func() {
		matches, opErr = s.idx.Search(result.Vector, fetchK, 0)
	})
	if opErr != nil {
		return nil, fmt.Errorf("indexsvc: search failed: %w", opErr)
	}

	out := make([]SearchResult, len(matches))
	for i, m := range matches {
		out[i] = SearchResult{Path: m.ID, Score: m.Score}
	}

	if timeWeight {
		out = rerankByRecency(out, s.snapshotUpdatedAt(out), now)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Service) snapshotUpdatedAt(results []SearchResult) map[string]int64 {
	snapshot := make(map[string]int64, len(results))
	s.do(func() {
		for _, r := range results {
			if ts, ok := s.updatedAt[r.Path]; ok {
				snapshot[r.Path] = ts
			}
		}
	})
	return snapshot
}

// rerankByRecency applies the time-weighted ranking formula (spec §4.3):
// decay = 0.5^(age/H); adjusted = score * (0.3 + 0.7*decay). Unknown
// updated_at is treated as age=0 (maximal boost).
func rerankByRecency(results []SearchResult, updatedAt map[string]int64, nowMs int64) []SearchResult {
	type scored struct {
		result   SearchResult
		adjusted float64
	}
	scoredResults := make([]scored, len(results))
	for i, r := range results {
		var ageMs int64
		if ts, ok := updatedAt[r.Path]; ok {
			ageMs = nowMs - ts
			if ageMs < 0 {
				ageMs = 0
			}
		}
		decay := math.Pow(0.5, float64(ageMs)/float64(halfLife.Milliseconds()))
		scoredResults[i] = scored{result: r, adjusted: r.Score * (0.3 + 0.7*decay)}
	}
	for i := 1; i < len(scoredResults); i++ {
		for j := i; j > 0 && scoredResults[j].adjusted > scoredResults[j-1].adjusted; j-- {
			scoredResults[j], scoredResults[j-1] = scoredResults[j-1], scoredResults[j]
		}
	}
	out := make([]SearchResult, len(scoredResults))
	for i, sr := range scoredResults {
		out[i] = sr.result
	}
	return out
}

// Stats reports the current size of the in-memory graph.
func (s *Service) Stats(ctx context.Context) Stats {
	var size int
	s.do(func() { size = s.idx.Size() })
	return Stats{IndexedFiles: size, IndexSize: size}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
