// Package reflection implements the reflection staging document builder
// (spec §4.8, C8) and the agentic reflection controller (spec §4.9, C9).
package reflection

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oscillatelabsllc/memoria/internal/objectstore"
)

const (
	pendingDir = "memory/reflections/pending/"
	archiveDir = "memory/reflections/archive/"
)

// EditAction enumerates the mutations a proposed edit may perform.
type EditAction string

const (
	ActionReplace EditAction = "replace"
	ActionAppend  EditAction = "append"
	ActionDelete  EditAction = "delete"
	ActionCreate  EditAction = "create"
)

// ProposedEdit is a staged, not-yet-applied change to a memory file.
type ProposedEdit struct {
	Path    string     `json:"path"`
	Action  EditAction `json:"action"`
	Content string     `json:"content,omitempty"`
	Reason  string     `json:"reason"`
}

// AutoAppliedFix records a mechanical change already written to disk.
type AutoAppliedFix struct {
	Path    string `json:"path"`
	FixType string `json:"fixType"`
	Reason  string `json:"reason"`
}

// FlaggedIssue is a problem noted during quick scan that needs deeper
// review but was not resolved by a proposed edit.
type FlaggedIssue struct {
	Path  string `json:"path"`
	Issue string `json:"issue"`
}

// StagedReflection is the full output of one reflection run.
type StagedReflection struct {
	Date                   string           `json:"date"`
	Summary                string           `json:"summary"`
	ProposedEdits          []ProposedEdit   `json:"proposedEdits"`
	AutoAppliedFixes       []AutoAppliedFix `json:"autoAppliedFixes"`
	FlaggedIssues          []FlaggedIssue   `json:"flaggedIssues"`
	QuickScanIterations    int              `json:"quickScanIterations"`
	DeepAnalysisIterations int              `json:"deepAnalysisIterations"`
}

// PendingFile is a summary row for listPending.
type PendingFile struct {
	Date string `json:"date"`
	Path string `json:"path"`
}

// Staging owns the reflections/pending and reflections/archive trees.
type Staging struct {
	store objectstore.Store
}

// NewStaging creates a staging manager backed by store.
func NewStaging(store objectstore.Store) *Staging {
	return &Staging{store: store}
}

// BuildDocument renders r as the deterministic markdown document
// described in spec §4.8: header, summary, statistics, auto-applied
// fixes, proposed changes, unresolved flagged issues, after-review note.
func BuildDocument(r StagedReflection) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Reflection — %s\n\n", r.Date)
	fmt.Fprintf(&b, "## Summary\n\n%s\n\n", r.Summary)

	b.WriteString("## Statistics\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Quick-scan iterations | %d |\n", r.QuickScanIterations)
	fmt.Fprintf(&b, "| Deep-analysis iterations | %d |\n", r.DeepAnalysisIterations)
	fmt.Fprintf(&b, "| Auto-applied fixes | %d |\n", len(r.AutoAppliedFixes))
	fmt.Fprintf(&b, "| Proposed edits | %d |\n", len(r.ProposedEdits))
	fmt.Fprintf(&b, "| Flagged issues | %d |\n\n", len(r.FlaggedIssues))

	b.WriteString("## Auto-Applied Fixes\n\n")
	if len(r.AutoAppliedFixes) == 0 {
		b.WriteString("none\n\n")
	} else {
		for _, f := range r.AutoAppliedFixes {
			fmt.Fprintf(&b, "- `%s` (%s): %s\n", f.Path, f.FixType, f.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Proposed Changes\n\n")
	if len(r.ProposedEdits) == 0 {
		b.WriteString("none\n\n")
	} else {
		for i, e := range r.ProposedEdits {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, e.Path)
			fmt.Fprintf(&b, "**Action:** %s\n\n", e.Action)
			fmt.Fprintf(&b, "**Reason:** %s\n\n", e.Reason)
			if e.Action != ActionDelete {
				fmt.Fprintf(&b, "**Content:**\n\n```\n%s\n```\n\n", e.Content)
			}
		}
	}

	proposedPaths := map[string]bool{}
	for _, e := range r.ProposedEdits {
		proposedPaths[e.Path] = true
	}

	b.WriteString("## Flagged Issues\n\n")
	var unresolved []FlaggedIssue
	for _, issue := range r.FlaggedIssues {
		if !proposedPaths[issue.Path] {
			unresolved = append(unresolved, issue)
		}
	}
	if len(unresolved) == 0 {
		b.WriteString("none\n\n")
	} else {
		for _, issue := range unresolved {
			fmt.Fprintf(&b, "- `%s`: %s\n", issue.Path, issue.Issue)
		}
		b.WriteString("\n")
	}

	b.WriteString("## After Review\n\n")
	b.WriteString("Apply proposed changes with `apply_reflection_changes`, specifying the 1-indexed edit numbers to accept. Archive this document once it has been fully reviewed.\n")

	return b.String()
}

// WritePending builds and persists r's document at
// memory/reflections/pending/{date}.md.
func (s *Staging) WritePending(ctx context.Context, r StagedReflection) (string, error) {
	path := pendingDir + r.Date + ".md"
	if _, err := s.store.Write(ctx, path, BuildDocument(r)); err != nil {
		return "", fmt.Errorf("reflection: write pending document: %w", err)
	}
	return path, nil
}

// ListPending returns pending reflection documents sorted by date
// descending (most recent first).
func (s *Staging) ListPending(ctx context.Context) ([]PendingFile, error) {
	entries, err := s.store.List(ctx, pendingDir, false)
	if err != nil {
		return nil, fmt.Errorf("reflection: list pending: %w", err)
	}
	var out []PendingFile
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(e.Path, pendingDir), ".md")
		out = append(out, PendingFile{Date: date, Path: e.Path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// Archive moves a pending file to memory/reflections/archive/{date}.md —
// a copy to the archive location followed by deleting the pending source.
func (s *Staging) Archive(ctx context.Context, date string) error {
	pendingPath := pendingDir + date + ".md"
	f, err := s.store.Read(ctx, pendingPath)
	if err != nil {
		return fmt.Errorf("reflection: read pending document: %w", err)
	}
	if f == nil {
		return fmt.Errorf("reflection: no pending document for date %q", date)
	}

	archivePath := archiveDir + date + ".md"
	if _, err := s.store.Write(ctx, archivePath, f.Content); err != nil {
		return fmt.Errorf("reflection: write archive copy: %w", err)
	}
	if err := s.store.Delete(ctx, pendingPath); err != nil {
		return fmt.Errorf("reflection: delete pending source: %w", err)
	}
	return nil
}

var (
	editHeaderRE = regexp.MustCompile(`(?m)^### (\d+)\. (.+)$`)
	actionRE     = regexp.MustCompile(`\*\*Action:\*\*\s*(\w+)`)
	reasonRE     = regexp.MustCompile(`\*\*Reason:\*\*\s*(.+)`)
	contentRE    = regexp.MustCompile("(?s)```\\n(.*?)\\n```")
)

// ParseProposedEdits extracts the numbered edit list from a staged
// document's "## Proposed Changes" section, as produced by BuildDocument.
func ParseProposedEdits(doc string) (map[int]ProposedEdit, error) {
	section := extractSection(doc, "## Proposed Changes", "## Flagged Issues")
	if strings.TrimSpace(section) == "none" || strings.TrimSpace(section) == "" {
		return map[int]ProposedEdit{}, nil
	}

	headers := editHeaderRE.FindAllStringSubmatchIndex(section, -1)
	edits := map[int]ProposedEdit{}
	for i, h := range headers {
		start := h[1]
		end := len(section)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		block := section[start:end]

		numStr := section[h[2]:h[3]]
		path := strings.TrimSpace(section[h[4]:h[5]])
		num, err := strconv.Atoi(numStr)
		if err != nil {
			return nil, fmt.Errorf("reflection: invalid edit number %q: %w", numStr, err)
		}

		edit := ProposedEdit{Path: path}
		if m := actionRE.FindStringSubmatch(block); m != nil {
			edit.Action = EditAction(m[1])
		}
		if m := reasonRE.FindStringSubmatch(block); m != nil {
			edit.Reason = strings.TrimSpace(m[1])
		}
		if m := contentRE.FindStringSubmatch(block); m != nil {
			edit.Content = m[1]
		}
		edits[num] = edit
	}
	return edits, nil
}

func extractSection(doc, startHeader, endHeader string) string {
	startIdx := strings.Index(doc, startHeader)
	if startIdx < 0 {
		return ""
	}
	startIdx += len(startHeader)
	rest := doc[startIdx:]
	if endHeader != "" {
		if endIdx := strings.Index(rest, endHeader); endIdx >= 0 {
			return strings.TrimSpace(rest[:endIdx])
		}
	}
	return strings.TrimSpace(rest)
}

// timestamp marker recording when reflection last ran.

// LastReflectionMarker is persisted after every reflection run.
type LastReflectionMarker struct {
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
}

const lastReflectionKey = "memory/meta/last-reflection.json"
