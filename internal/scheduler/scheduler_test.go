package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/oscillatelabsllc/memoria/internal/llm"
	"github.com/oscillatelabsllc/memoria/internal/objectstore"
	"github.com/oscillatelabsllc/memoria/internal/reflection"
)

type noopClient struct{}

func (noopClient) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	return llm.Response{Text: "nothing to report"}, nil
}
func (noopClient) CompleteWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	return llm.Response{}, nil
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	store, err := objectstore.NewDuckDBStore(t.TempDir() + "/store.duckdb")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	staging := reflection.NewStaging(store)
	controller := reflection.NewController(store, nil, nil, staging, nil, noopClient{}, noopClient{}, false)
	return New(controller)
}

func TestMaybeRunSkipsOutsideReflectionHour(t *testing.T) {
	s := newTestScheduler(t)
	s.maybeRun(context.Background(), time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	if s.lastRun != "" {
		t.Fatalf("expected no run outside reflectionHour, got lastRun=%q", s.lastRun)
	}
}

func TestMaybeRunFiresOnceAtReflectionHour(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Date(2026, 3, 5, reflectionHour, 0, 0, 0, time.UTC)
	s.maybeRun(context.Background(), now)
	if s.lastRun != "2026-03-05" {
		t.Fatalf("expected lastRun set to 2026-03-05, got %q", s.lastRun)
	}

	// A second tick within the same hour must not re-run.
	s.maybeRun(context.Background(), now.Add(30*time.Minute))
	if s.lastRun != "2026-03-05" {
		t.Fatalf("expected lastRun to remain unchanged on repeat tick, got %q", s.lastRun)
	}
}

func TestMaybeRunFiresAgainNextDay(t *testing.T) {
	s := newTestScheduler(t)
	day1 := time.Date(2026, 3, 5, reflectionHour, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 6, reflectionHour, 0, 0, 0, time.UTC)
	s.maybeRun(context.Background(), day1)
	s.maybeRun(context.Background(), day2)
	if s.lastRun != "2026-03-06" {
		t.Fatalf("expected lastRun to advance to 2026-03-06, got %q", s.lastRun)
	}
}
