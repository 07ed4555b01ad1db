package reflection

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/oscillatelabsllc/memoria/internal/llm"
)

const (
	coreMemoryPrefix = "memory/core/"
	patternsPrefix   = "memory/patterns/"
	recentFileCount  = 10
)

var fencedBlockRE = regexp.MustCompile("(?s)```(?:markdown)?\\n(.*?)\\n```")

// runLegacy implements the "Legacy fallback" path in spec §4.9: gather
// core memory, recent files, and pattern files; send one non-tool
// prompt; parse a fenced markdown block; write it directly under
// pending/. Used only when the agentic feature flag is disabled.
func (c *Controller) runLegacy(ctx context.Context, date string) Result {
	prompt, err := c.buildLegacyPrompt(ctx, date)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	resp, err := c.primary.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You write daily memory-store reflections as a single fenced markdown document."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	doc := extractFencedBlock(resp.Text)
	if doc == "" {
		return Result{Success: false, Error: "legacy reflection: no fenced markdown block in model response"}
	}

	path := pendingDir + date + ".md"
	if _, err := c.store.Write(ctx, path, doc); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	return Result{
		Success:    true,
		Summary:    truncateText(doc, maxFreeTextChars),
		StagedPath: path,
	}
}

func (c *Controller) buildLegacyPrompt(ctx context.Context, date string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a reflection for %s.\n\n", date)

	core, err := c.readPrefix(ctx, coreMemoryPrefix)
	if err != nil {
		return "", err
	}
	b.WriteString("## Core memory\n\n")
	b.WriteString(core)

	recent, err := c.readRecent(ctx)
	if err != nil {
		return "", err
	}
	b.WriteString("\n## Recently updated files\n\n")
	b.WriteString(recent)

	patterns, err := c.readPrefix(ctx, patternsPrefix)
	if err != nil {
		return "", err
	}
	b.WriteString("\n## Patterns\n\n")
	b.WriteString(patterns)

	b.WriteString("\nRespond with a single fenced markdown block containing the full reflection document.\n")
	return b.String(), nil
}

func (c *Controller) readPrefix(ctx context.Context, prefix string) (string, error) {
	entries, err := c.store.List(ctx, prefix, true)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "none\n", nil
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		f, err := c.store.Read(ctx, e.Path)
		if err != nil || f == nil {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", e.Path, f.Content)
	}
	return b.String(), nil
}

func (c *Controller) readRecent(ctx context.Context) (string, error) {
	entries, err := c.store.List(ctx, "memory/", true)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
	if len(entries) > recentFileCount {
		entries = entries[:recentFileCount]
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		fmt.Fprintf(&b, "- %s (updated %s)\n", e.Path, e.UpdatedAt.Format("2006-01-02"))
	}
	if b.Len() == 0 {
		return "none\n", nil
	}
	return b.String(), nil
}

func extractFencedBlock(text string) string {
	m := fencedBlockRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
