package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oscillatelabsllc/memoria/internal/llm"
)

func stringSchema(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func quickScanTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "listFiles",
			Description: "List files under a path in the memory store.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":      stringSchema("path prefix to list"),
					"recursive": map[string]interface{}{"type": "boolean", "description": "list recursively"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "readFile",
			Description: "Read a memory file's content.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": stringSchema("file path")},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "autoApply",
			Description: "Apply a mechanical fix (typo, whitespace, newline, duplicate, formatting) directly to a file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    stringSchema("file path"),
					"fixType": map[string]interface{}{"type": "string", "enum": []string{"typo", "whitespace", "newline", "duplicate", "formatting"}},
					"oldText": stringSchema("text to replace (required except for newline)"),
					"newText": stringSchema("replacement text"),
					"reason":  stringSchema("why this fix is being applied"),
				},
				"required": []string{"path", "fixType", "reason"},
			},
		},
		{
			Name:        "flagForDeepAnalysis",
			Description: "Flag a file/issue for the deep-analysis phase instead of fixing it now.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":  stringSchema("file path"),
					"issue": stringSchema("description of the issue"),
				},
				"required": []string{"path", "issue"},
			},
		},
		{
			Name:        "finishQuickScan",
			Description: "Signal that the quick scan is complete.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"autoApplied":          map[string]interface{}{"type": "integer"},
					"flaggedForDeepAnalysis": map[string]interface{}{"type": "integer"},
				},
			},
		},
	}
}

func deepAnalysisTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "searchMemory",
			Description: "Semantically search the memory store.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": stringSchema("search query"),
					"limit": map[string]interface{}{"type": "integer"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "readFile",
			Description: "Read a memory file's content.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": stringSchema("file path")},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "listFiles",
			Description: "List files under a path in the memory store.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":      stringSchema("path prefix to list"),
					"recursive": map[string]interface{}{"type": "boolean"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "proposeEdit",
			Description: "Stage an edit for human review without mutating the file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    stringSchema("file path"),
					"action":  map[string]interface{}{"type": "string", "enum": []string{"replace", "append", "delete", "create"}},
					"content": stringSchema("new content (required for replace/append/create)"),
					"reason":  stringSchema("why this edit is proposed"),
				},
				"required": []string{"path", "action", "reason"},
			},
		},
		{
			Name:        "autoApply",
			Description: "Apply a mechanical fix (typo, whitespace, newline, duplicate, formatting) directly to a file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    stringSchema("file path"),
					"fixType": map[string]interface{}{"type": "string", "enum": []string{"typo", "whitespace", "newline", "duplicate", "formatting"}},
					"oldText": stringSchema("text to replace"),
					"newText": stringSchema("replacement text"),
					"reason":  stringSchema("why this fix is being applied"),
				},
				"required": []string{"path", "fixType", "reason"},
			},
		},
		{
			Name:        "finishReflection",
			Description: "Signal that deep analysis is complete.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"summary":         stringSchema("overall summary of the reflection run"),
					"proposedChanges": map[string]interface{}{"type": "integer"},
					"autoApplied":     map[string]interface{}{"type": "integer"},
				},
				"required": []string{"summary"},
			},
		},
	}
}

func stringArg(input map[string]interface{}, key string) string {
	if v, ok := input[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolArg(input map[string]interface{}, key string) bool {
	if v, ok := input[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func (c *Controller) dispatchQuickScanTool(ctx context.Context, call llm.ToolCall, state *runState) (result string, isFinish bool, err error) {
	switch call.Name {
	case "listFiles":
		return c.toolListFiles(ctx, call.Input)
	case "readFile":
		return c.toolReadFile(ctx, call.Input)
	case "autoApply":
		return c.toolAutoApply(ctx, call.Input, state)
	case "flagForDeepAnalysis":
		state.flagged = append(state.flagged, FlaggedIssue{
			Path:  stringArg(call.Input, "path"),
			Issue: stringArg(call.Input, "issue"),
		})
		return "flagged", false, nil
	case "finishQuickScan":
		return "quick scan finished", true, nil
	default:
		return "", false, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (c *Controller) dispatchDeepAnalysisTool(ctx context.Context, call llm.ToolCall, state *runState) (result, finishSummary string, isFinish bool, err error) {
	switch call.Name {
	case "searchMemory":
		limit := 5
		if v, ok := call.Input["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}
		if c.searcher == nil {
			return "search unavailable", "", false, nil
		}
		hits, err := c.searcher.Search(ctx, stringArg(call.Input, "query"), limit)
		if err != nil {
			return "", "", false, err
		}
		data, _ := json.Marshal(hits)
		return string(data), "", false, nil
	case "readFile":
		r, _, err := c.toolReadFile(ctx, call.Input)
		return r, "", false, err
	case "listFiles":
		r, _, err := c.toolListFiles(ctx, call.Input)
		return r, "", false, err
	case "proposeEdit":
		edit := ProposedEdit{
			Path:    stringArg(call.Input, "path"),
			Action:  EditAction(stringArg(call.Input, "action")),
			Content: stringArg(call.Input, "content"),
			Reason:  stringArg(call.Input, "reason"),
		}
		if err := c.validateProposedEdit(ctx, edit); err != nil {
			return "", "", false, err
		}
		state.proposed = append(state.proposed, edit)
		return "proposed", "", false, nil
	case "autoApply":
		r, _, err := c.toolAutoApply(ctx, call.Input, state)
		return r, "", false, err
	case "finishReflection":
		return "reflection finished", stringArg(call.Input, "summary"), true, nil
	default:
		return "", "", false, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (c *Controller) toolListFiles(ctx context.Context, input map[string]interface{}) (string, bool, error) {
	entries, err := c.store.List(ctx, stringArg(input, "path"), boolArg(input, "recursive"))
	if err != nil {
		return "", false, err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", false, err
	}
	return string(data), false, nil
}

func (c *Controller) toolReadFile(ctx context.Context, input map[string]interface{}) (string, bool, error) {
	f, err := c.store.Read(ctx, stringArg(input, "path"))
	if err != nil {
		return "", false, err
	}
	if f == nil {
		return "", false, fmt.Errorf("file not found: %s", stringArg(input, "path"))
	}
	return f.Content, false, nil
}

// validateProposedEdit implements the "proposeEdit semantics" in spec
// §4.9: rejects a target that doesn't exist (except create) or is
// missing required content (for replace/append/create).
func (c *Controller) validateProposedEdit(ctx context.Context, edit ProposedEdit) error {
	if edit.Path == "" {
		return fmt.Errorf("proposeEdit: path is required")
	}
	switch edit.Action {
	case ActionReplace, ActionAppend, ActionCreate:
		if edit.Content == "" {
			return fmt.Errorf("proposeEdit: content is required for action %q", edit.Action)
		}
	case ActionDelete:
	default:
		return fmt.Errorf("proposeEdit: unknown action %q", edit.Action)
	}

	if edit.Action != ActionCreate {
		f, err := c.store.Read(ctx, edit.Path)
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("proposeEdit: target file %q does not exist", edit.Path)
		}
	}
	return nil
}

// toolAutoApply implements the "autoApply semantics" in spec §4.9.
func (c *Controller) toolAutoApply(ctx context.Context, input map[string]interface{}, state *runState) (string, bool, error) {
	path := stringArg(input, "path")
	fixType := stringArg(input, "fixType")
	oldText := stringArg(input, "oldText")
	newText := stringArg(input, "newText")
	reason := stringArg(input, "reason")

	f, err := c.store.Read(ctx, path)
	if err != nil {
		return "", false, err
	}
	if f == nil {
		return "", false, fmt.Errorf("autoApply: file %q does not exist", path)
	}
	current := f.Content

	var updated string
	switch fixType {
	case "typo", "whitespace", "formatting":
		if oldText == "" || newText == "" {
			return "", false, fmt.Errorf("autoApply: %s requires both oldText and newText", fixType)
		}
		if !strings.Contains(current, oldText) {
			return "", false, fmt.Errorf("autoApply: oldText not found in %q", path)
		}
		updated = strings.Replace(current, oldText, newText, 1)

	case "newline":
		updated = strings.TrimRight(current, " \t\r\n") + "\n"

	case "duplicate":
		if oldText == "" {
			return "", false, fmt.Errorf("autoApply: duplicate requires oldText")
		}
		if !strings.Contains(current, oldText) {
			return "", false, fmt.Errorf("autoApply: oldText not found in %q", path)
		}
		updated = strings.Replace(current, oldText, newText, 1)

	default:
		return "", false, fmt.Errorf("autoApply: unknown fixType %q", fixType)
	}

	if updated == current {
		return "no change (already applied)", false, nil
	}

	if _, err := c.store.Write(ctx, path, updated); err != nil {
		return "", false, err
	}
	if c.indexer != nil {
		if err := c.indexer.Update(ctx, path, updated); err != nil {
			return "", false, err
		}
	}

	state.autoApplied = append(state.autoApplied, AutoAppliedFix{Path: path, FixType: fixType, Reason: reason})
	return "applied", false, nil
}
