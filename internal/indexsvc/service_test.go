package indexsvc

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/oscillatelabsllc/memoria/internal/embedding"
)

// fakeEmbedder derives a deterministic unit vector from the text's content
// so tests don't depend on a real embedding endpoint. Identical text
// always yields an (approximately) identical vector.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Dim() int { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Result, error) {
	v := make([]float32, f.dim)
	var seed float64 = 1
	for _, r := range text {
		seed = seed*31 + float64(r)
	}
	var norm float64
	for i := range v {
		seed = math.Mod(seed*1103515245+12345, 1<<31)
		f := (seed/float64(1<<31))*2 - 1
		v[i] = float32(f)
		norm += f * f
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return embedding.Result{Vector: v, Dimensions: f.dim}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := t.TempDir() + "/index.duckdb"
	svc, err := NewService(context.Background(), path, &fakeEmbedder{dim: 16})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestUpdateThenSearchFindsExactMatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	content := "Cloudflare Workers have a 128MB Durable Object memory limit."
	if err := svc.Update(ctx, "memory/a.md", content); err != nil {
		t.Fatalf("update: %v", err)
	}

	results, err := svc.Search(ctx, content, 1, false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "memory/a.md" {
		t.Fatalf("expected memory/a.md, got %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected near-1.0 score for exact content match, got %f", results[0].Score)
	}
}

func TestEmptyIndexSearchReturnsEmptySlice(t *testing.T) {
	svc := newTestService(t)
	results, err := svc.Search(context.Background(), "anything", 5, false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestDeleteRemovesFromFutureSearches(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.Update(ctx, "memory/a.md", "alpha content")
	svc.Update(ctx, "memory/b.md", "beta content")

	if err := svc.Delete(ctx, "memory/a.md"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	results, _ := svc.Search(ctx, "alpha content", 5, false)
	for _, r := range results {
		if r.Path == "memory/a.md" {
			t.Fatalf("expected memory/a.md to be gone after delete, got %+v", results)
		}
	}
}

func TestWarmUpRebuildsFromPersistedTable(t *testing.T) {
	path := "" // filled below
	tmp := t.TempDir()
	path = tmp + "/index.duckdb"
	embedder := &fakeEmbedder{dim: 16}

	svc1, err := NewService(context.Background(), path, embedder)
	if err != nil {
		t.Fatalf("new service 1: %v", err)
	}
	svc1.Update(context.Background(), "memory/a.md", "durable content")
	svc1.Close()

	svc2, err := NewService(context.Background(), path, embedder)
	if err != nil {
		t.Fatalf("new service 2 (warm-up): %v", err)
	}
	defer svc2.Close()

	stats := svc2.Stats(context.Background())
	if stats.IndexedFiles != 1 {
		t.Fatalf("expected warm-up to restore 1 node, got %d", stats.IndexedFiles)
	}
}

func TestTimeWeightedSearchPrefersRecent(t *testing.T) {
	results := []SearchResult{
		{Path: "old", Score: 0.9},
		{Path: "new", Score: 0.9},
	}
	now := time.Now().UnixMilli()
	updatedAt := map[string]int64{
		"old": now - 90*24*time.Hour.Milliseconds(),
		"new": now,
	}
	ranked := rerankByRecency(results, updatedAt, now)
	if ranked[0].Path != "new" {
		t.Fatalf("expected 'new' to rank before 'old', got order %v", []string{ranked[0].Path, ranked[1].Path})
	}
}

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	v := []float32{0.1, -0.2, 0.3, 1.0}
	encoded := encodeVector(v)
	decoded, err := decodeVector(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range v {
		if math.Abs(float64(v[i]-decoded[i])) > 1e-6 {
			t.Fatalf("round trip mismatch at %d: %f != %f", i, v[i], decoded[i])
		}
	}
}

func TestCorruptWarmUpRowIsSkippedNotFatal(t *testing.T) {
	path := t.TempDir() + "/index.duckdb"
	embedder := &fakeEmbedder{dim: 16}

	svc, err := NewService(context.Background(), path, embedder)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Update(context.Background(), "memory/a.md", "fine")
	// Corrupt the row directly (odd byte length -> not a multiple of 4).
	svc.db.Exec(`UPDATE index_embeddings SET embedding = ? WHERE path = 'memory/a.md'`, []byte{1, 2, 3})
	svc.Close()

	svc2, err := NewService(context.Background(), path, embedder)
	if err != nil {
		t.Fatalf("new service on corrupt row should not fail cold start: %v", err)
	}
	defer svc2.Close()
	stats := svc2.Stats(context.Background())
	if stats.IndexedFiles != 0 {
		t.Errorf("expected corrupt row to be skipped, got %d indexed", stats.IndexedFiles)
	}
}

func TestSearchWithManyResultsTruncatesToK(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		svc.Update(ctx, "memory/"+strings.Repeat("x", i+1)+".md", "content number")
	}
	results, err := svc.Search(ctx, "content number", 2, true)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}
