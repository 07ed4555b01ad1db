package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oscillatelabsllc/memoria/internal/llm"
	"github.com/oscillatelabsllc/memoria/internal/notify"
	"github.com/oscillatelabsllc/memoria/internal/objectstore"
)

const (
	maxQuickScan     = 5
	maxDeepAnalysis  = 10
	maxFreeTextChars = 500
)

// Indexer is the C3 slice the controller depends on for re-indexing
// changed files after an auto-applied or applied fix.
type Indexer interface {
	Update(ctx context.Context, path, content string) error
	Delete(ctx context.Context, path string) error
}

// SearchHit is one result of the searchMemory tool.
type SearchHit struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Searcher is the C3 slice used by the deep-analysis searchMemory tool.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]SearchHit, error)
}

// Result is the outcome of one reflection run (spec §4.9 "Result").
type Result struct {
	Success                bool             `json:"success"`
	Error                  string           `json:"error,omitempty"`
	Summary                string           `json:"summary"`
	ProposedEdits          []ProposedEdit   `json:"proposedEdits"`
	AutoAppliedFixes       []AutoAppliedFix `json:"autoAppliedFixes"`
	FlaggedIssues          []FlaggedIssue   `json:"flaggedIssues"`
	QuickScanIterations    int              `json:"quickScanIterations"`
	DeepAnalysisIterations int              `json:"deepAnalysisIterations"`
	StagedPath             string           `json:"stagedPath,omitempty"`
}

// Controller runs the two-phase agentic reflection loop.
type Controller struct {
	store       objectstore.Store
	indexer     Indexer
	searcher    Searcher
	staging     *Staging
	notifier    notify.Notifier
	fastModel   llm.Client
	primary     llm.Client
	useAgentic  bool
}

// NewController wires the reflection controller. useAgentic selects
// between the tool-calling loop and the legacy single-prompt fallback.
func NewController(store objectstore.Store, indexer Indexer, searcher Searcher, staging *Staging, notifier notify.Notifier, fastModel, primary llm.Client, useAgentic bool) *Controller {
	return &Controller{
		store:      store,
		indexer:    indexer,
		searcher:   searcher,
		staging:    staging,
		notifier:   notifier,
		fastModel:  fastModel,
		primary:    primary,
		useAgentic: useAgentic,
	}
}

// runState accumulates everything a run produces across both phases.
type runState struct {
	autoApplied []AutoAppliedFix
	flagged     []FlaggedIssue
	proposed    []ProposedEdit
}

// Run executes one reflection: the agentic two-phase loop when
// useAgentic is set, otherwise the legacy single-prompt fallback.
func (c *Controller) Run(ctx context.Context, date string) (Result, error) {
	var result Result
	if c.useAgentic {
		result = c.runAgentic(ctx)
	} else {
		result = c.runLegacy(ctx, date)
	}

	if err := c.persistLastReflection(ctx, date); err != nil {
		return result, err
	}

	if c.useAgentic && len(result.ProposedEdits) > 0 {
		path, err := c.staging.WritePending(ctx, StagedReflection{
			Date:                   date,
			Summary:                result.Summary,
			ProposedEdits:          result.ProposedEdits,
			AutoAppliedFixes:       result.AutoAppliedFixes,
			FlaggedIssues:          result.FlaggedIssues,
			QuickScanIterations:    result.QuickScanIterations,
			DeepAnalysisIterations: result.DeepAnalysisIterations,
		})
		if err != nil {
			return result, err
		}
		result.StagedPath = path
	}

	actionable := len(result.ProposedEdits) > 0 || len(result.AutoAppliedFixes) > 0
	if actionable && c.notifier != nil {
		msg := fmt.Sprintf("Reflection %s: %d proposed edit(s), %d auto-applied fix(es)", date, len(result.ProposedEdits), len(result.AutoAppliedFixes))
		if err := c.notifier.Notify(ctx, msg); err != nil {
			return result, fmt.Errorf("reflection: notify: %w", err)
		}
	}

	return result, nil
}

func (c *Controller) persistLastReflection(ctx context.Context, date string) error {
	marker := LastReflectionMarker{Timestamp: time.Now().UTC(), Date: date}
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("reflection: marshal last-reflection marker: %w", err)
	}
	if _, err := c.store.Write(ctx, lastReflectionKey, string(data)); err != nil {
		return fmt.Errorf("reflection: persist last-reflection marker: %w", err)
	}
	return nil
}

// runAgentic executes Phase A (quick scan) then Phase B (deep analysis).
func (c *Controller) runAgentic(ctx context.Context) Result {
	state := &runState{}

	quickIters, err := c.runQuickScan(ctx, state)
	if err != nil {
		return Result{
			Success:             false,
			Error:               err.Error(),
			AutoAppliedFixes:    state.autoApplied,
			FlaggedIssues:       state.flagged,
			QuickScanIterations: quickIters,
		}
	}

	deepIters, summary, err := c.runDeepAnalysis(ctx, state)
	if err != nil {
		return Result{
			Success:                false,
			Error:                  err.Error(),
			AutoAppliedFixes:       state.autoApplied,
			FlaggedIssues:          state.flagged,
			ProposedEdits:          state.proposed,
			QuickScanIterations:    quickIters,
			DeepAnalysisIterations: deepIters,
		}
	}

	return Result{
		Success:                true,
		Summary:                summary,
		ProposedEdits:          state.proposed,
		AutoAppliedFixes:       state.autoApplied,
		FlaggedIssues:          state.flagged,
		QuickScanIterations:    quickIters,
		DeepAnalysisIterations: deepIters,
	}
}

func (c *Controller) runQuickScan(ctx context.Context, state *runState) (int, error) {
	messages := []llm.Message{
		{Role: "system", Content: "You are performing a quick scan of the memory store for mechanical issues: typos, trailing whitespace, missing trailing newlines, duplicate content, and inconsistent formatting. Fix what you can with autoApply and flag anything needing deeper review."},
		{Role: "user", Content: "Scan the memory store and fix mechanical issues."},
	}
	tools := quickScanTools()

	iterations := 0
	for iterations < maxQuickScan {
		iterations++
		resp, err := c.fastModel.CompleteWithTools(ctx, messages, tools)
		if err != nil {
			return iterations, fmt.Errorf("quick scan turn %d: %w", iterations, err)
		}
		if resp.Text != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: resp.Text})
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		finished := false
		for _, call := range resp.ToolCalls {
			result, isFinish, err := c.dispatchQuickScanTool(ctx, call, state)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			messages = append(messages, llm.Message{Role: "tool", ToolName: call.Name, ToolCallID: call.ID, Content: result})
			if isFinish {
				finished = true
			}
		}
		if finished {
			break
		}
	}
	return iterations, nil
}

func (c *Controller) runDeepAnalysis(ctx context.Context, state *runState) (int, string, error) {
	var flaggedText strings.Builder
	if len(state.flagged) == 0 {
		flaggedText.WriteString("none")
	} else {
		for _, f := range state.flagged {
			fmt.Fprintf(&flaggedText, "- %s: %s\n", f.Path, f.Issue)
		}
	}

	messages := []llm.Message{
		{Role: "system", Content: "You are performing a deep analysis pass over the memory store, proposing substantive edits for human review."},
		{Role: "user", Content: fmt.Sprintf(
			"Analyze the memory store for structural, stale, or redundant content.\n\nFlagged during quick scan:\n%s\n\n%d mechanical fix(es) were already auto-applied.",
			flaggedText.String(), len(state.autoApplied),
		)},
	}
	tools := deepAnalysisTools()

	iterations := 0
	var summary string
	for iterations < maxDeepAnalysis {
		iterations++
		resp, err := c.primary.CompleteWithTools(ctx, messages, tools)
		if err != nil {
			return iterations, "", fmt.Errorf("deep analysis turn %d: %w", iterations, err)
		}
		if resp.Text != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: resp.Text})
		}
		if len(resp.ToolCalls) == 0 {
			summary = truncateText(resp.Text, maxFreeTextChars)
			break
		}

		finished := false
		for _, call := range resp.ToolCalls {
			result, finishSummary, isFinish, err := c.dispatchDeepAnalysisTool(ctx, call, state)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			messages = append(messages, llm.Message{Role: "tool", ToolName: call.Name, ToolCallID: call.ID, Content: result})
			if isFinish {
				finished = true
				summary = finishSummary
			}
		}
		if finished {
			break
		}
	}

	if summary == "" {
		summary = fmt.Sprintf("Reflection completed: %d auto-applied fix(es), %d proposed edit(s), %d flagged issue(s).",
			len(state.autoApplied), len(state.proposed), len(state.flagged))
	}
	return iterations, summary, nil
}

func truncateText(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}
