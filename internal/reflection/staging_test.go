package reflection

import (
	"context"
	"strings"
	"testing"

	"github.com/oscillatelabsllc/memoria/internal/objectstore"
)

func newTestStaging(t *testing.T) (*Staging, objectstore.Store) {
	t.Helper()
	store, err := objectstore.NewDuckDBStore(t.TempDir() + "/store.duckdb")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewStaging(store), store
}

func sampleReflection() StagedReflection {
	return StagedReflection{
		Date:    "2026-03-05",
		Summary: "Cleaned up two stale files.",
		ProposedEdits: []ProposedEdit{
			{Path: "memory/notes.md", Action: ActionReplace, Content: "new content", Reason: "stale info"},
		},
		AutoAppliedFixes: []AutoAppliedFix{
			{Path: "memory/a.md", FixType: "whitespace", Reason: "trailing spaces"},
		},
		FlaggedIssues: []FlaggedIssue{
			{Path: "memory/notes.md", Issue: "contradicts memory/b.md"},
			{Path: "memory/c.md", Issue: "unclear ownership"},
		},
		QuickScanIterations:    3,
		DeepAnalysisIterations: 2,
	}
}

func TestBuildDocumentOmitsResolvedFlaggedIssues(t *testing.T) {
	doc := BuildDocument(sampleReflection())
	if strings.Contains(doc, "contradicts memory/b.md") {
		t.Error("expected flagged issue addressed by a proposed edit to be omitted")
	}
	if !strings.Contains(doc, "unclear ownership") {
		t.Error("expected unaddressed flagged issue to remain")
	}
}

func TestBuildDocumentSectionOrder(t *testing.T) {
	doc := BuildDocument(sampleReflection())
	sections := []string{"# Reflection", "## Summary", "## Statistics", "## Auto-Applied Fixes", "## Proposed Changes", "## Flagged Issues", "## After Review"}
	last := -1
	for _, s := range sections {
		idx := strings.Index(doc, s)
		if idx < 0 {
			t.Fatalf("missing section %q", s)
		}
		if idx < last {
			t.Fatalf("section %q out of order", s)
		}
		last = idx
	}
}

func TestBuildDocumentEmptySections(t *testing.T) {
	doc := BuildDocument(StagedReflection{Date: "2026-03-06", Summary: "nothing to report"})
	if !strings.Contains(doc, "## Auto-Applied Fixes\n\nnone") {
		t.Error("expected 'none' for empty auto-applied fixes")
	}
	if !strings.Contains(doc, "## Proposed Changes\n\nnone") {
		t.Error("expected 'none' for empty proposed changes")
	}
	if !strings.Contains(doc, "## Flagged Issues\n\nnone") {
		t.Error("expected 'none' for empty flagged issues")
	}
}

func TestWritePendingThenListPending(t *testing.T) {
	staging, _ := newTestStaging(t)
	ctx := context.Background()

	if _, err := staging.WritePending(ctx, sampleReflection()); err != nil {
		t.Fatalf("write pending: %v", err)
	}
	second := sampleReflection()
	second.Date = "2026-03-06"
	if _, err := staging.WritePending(ctx, second); err != nil {
		t.Fatalf("write pending 2: %v", err)
	}

	pending, err := staging.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending files, got %d", len(pending))
	}
	if pending[0].Date != "2026-03-06" {
		t.Fatalf("expected most recent date first, got %s", pending[0].Date)
	}
}

func TestArchiveMovesFile(t *testing.T) {
	staging, store := newTestStaging(t)
	ctx := context.Background()

	if _, err := staging.WritePending(ctx, sampleReflection()); err != nil {
		t.Fatalf("write pending: %v", err)
	}
	if err := staging.Archive(ctx, "2026-03-05"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	pending, err := store.Read(ctx, pendingDir+"2026-03-05.md")
	if err != nil {
		t.Fatalf("read pending: %v", err)
	}
	if pending != nil {
		t.Error("expected pending file to be gone after archive")
	}

	archived, err := store.Read(ctx, archiveDir+"2026-03-05.md")
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if archived == nil {
		t.Fatal("expected archived copy to exist")
	}
}

func TestParseProposedEditsRoundTrip(t *testing.T) {
	doc := BuildDocument(sampleReflection())
	edits, err := ParseProposedEdits(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(edits))
	}
	edit := edits[1]
	if edit.Path != "memory/notes.md" || edit.Action != ActionReplace || edit.Content != "new content" {
		t.Fatalf("unexpected parsed edit: %+v", edit)
	}
}

func TestParseProposedEditsNone(t *testing.T) {
	doc := BuildDocument(StagedReflection{Date: "2026-03-07", Summary: "x"})
	edits, err := ParseProposedEdits(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(edits) != 0 {
		t.Fatalf("expected no edits, got %d", len(edits))
	}
}
