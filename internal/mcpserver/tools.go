package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/oscillatelabsllc/memoria/internal/indexsvc"
	"github.com/oscillatelabsllc/memoria/internal/reminder"
)

// conversationExchangePrefix is the path prefix every indexed conversation
// exchange lives under (see conversation.exchangeKeyFmt), used to keep the
// search and search_conversations tool surfaces from conflating memory
// files with conversation exchanges.
const conversationExchangePrefix = "conversations/exchanges/"

// searchOverfetch is how far past k search asks the index for before
// filtering by path prefix, so filtering doesn't starve the result set.
const searchOverfetch = 4

// filterSearchResults keeps only results whose path does/doesn't start
// with prefix (per exclude) and truncates back down to k.
func filterSearchResults(results []indexsvc.SearchResult, prefix string, exclude bool, k int) []indexsvc.SearchResult {
	out := make([]indexsvc.SearchResult, 0, len(results))
	for _, r := range results {
		matches := strings.HasPrefix(r.Path, prefix)
		if matches == exclude {
			continue
		}
		out = append(out, r)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func prop(typ, desc string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": desc}
}

// registerTools wires every handler named in spec §6 into s.tools and
// builds the mcp.Tool definitions returned by tools/list.
func (s *Server) registerTools() {
	s.tools = map[string]toolHandler{
		"read":                      s.toolRead,
		"write":                     s.toolWrite,
		"list":                      s.toolList,
		"search":                    s.toolSearch,
		"history":                   s.toolHistory,
		"rollback":                  s.toolRollback,
		"execute":                   s.toolExecute,
		"search_conversations":      s.toolSearchConversations,
		"index_conversations":       s.toolIndexConversations,
		"expand_conversation":       s.toolExpandConversation,
		"conversation_stats":        s.toolConversationStats,
		"schedule_reminder":         s.toolScheduleReminder,
		"list_reminders":            s.toolListReminders,
		"remove_reminder":           s.toolRemoveReminder,
		"check_reminders":           s.toolCheckReminders,
		"list_pending_reflections":  s.toolListPendingReflections,
		"apply_reflection_changes":  s.toolApplyReflectionChanges,
		"archive_reflection":        s.toolArchiveReflection,
	}
}

func (s *Server) toolDefinitions() []mcp.Tool {
	return []mcp.Tool{
		{Name: "read", Description: "Read a memory file by path", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"path": prop("string", "file path")},
			Required:   []string{"path"},
		}},
		{Name: "write", Description: "Write content to a memory file, creating or overwriting it", InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path":    prop("string", "file path"),
				"content": prop("string", "new file content"),
			},
			Required: []string{"path", "content"},
		}},
		{Name: "list", Description: "List memory files under a prefix", InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prefix":    prop("string", "path prefix"),
				"recursive": prop("boolean", "list nested entries recursively"),
			},
		}},
		{Name: "search", Description: "Semantic search over memory files", InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query":      prop("string", "search query"),
				"k":          prop("integer", "number of results"),
				"timeWeight": prop("boolean", "weight results toward recently updated files"),
			},
			Required: []string{"query"},
		}},
		{Name: "history", Description: "List historical versions of a memory file", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"path": prop("string", "file path"), "limit": prop("integer", "max versions")},
			Required:   []string{"path"},
		}},
		{Name: "rollback", Description: "Restore a memory file to a prior version", InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path":      prop("string", "file path"),
				"versionId": prop("string", "version to restore"),
			},
			Required: []string{"path", "versionId"},
		}},
		{Name: "execute", Description: "Run Go source in the sandbox with read-only access to memory", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"code": prop("string", "Go source defining func Run")},
			Required:   []string{"code"},
		}},
		{Name: "search_conversations", Description: "Semantic search over indexed conversation exchanges", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"query": prop("string", "search query"), "k": prop("integer", "number of results")},
			Required:   []string{"query"},
		}},
		{Name: "index_conversations", Description: "Index a raw session JSON payload into conversation exchanges", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session": prop("string", "raw session JSON")},
			Required:   []string{"session"},
		}},
		{Name: "expand_conversation", Description: "Return exchanges surrounding one in a session", InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"sessionId":  prop("string", "session id"),
				"exchangeId": prop("string", "exchange id to center the window on"),
			},
			Required: []string{"sessionId"},
		}},
		{Name: "conversation_stats", Description: "Report session and exchange counts", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		{Name: "schedule_reminder", Description: "Schedule a one-shot or cron reminder", InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"type":        prop("string", "\"once\" or \"cron\""),
				"expression":  prop("string", "RFC3339 timestamp or 5-field cron expression"),
				"description": prop("string", "human-readable description"),
				"payload":     prop("string", "opaque payload returned when the reminder fires"),
			},
			Required: []string{"type", "expression", "description"},
		}},
		{Name: "list_reminders", Description: "List all scheduled reminders", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		{Name: "remove_reminder", Description: "Remove a scheduled reminder by id", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"id": prop("string", "reminder id")},
			Required:   []string{"id"},
		}},
		{Name: "check_reminders", Description: "Return reminders that match as of now, marking them fired", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		{Name: "list_pending_reflections", Description: "List pending reflection documents", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		{Name: "apply_reflection_changes", Description: "Apply selected proposed edits from a pending reflection document", InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"date":    prop("string", "pending reflection date"),
				"edits":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "integer"}, "description": "1-indexed edit numbers to apply"},
				"archive": prop("boolean", "archive the document on full success"),
			},
			Required: []string{"date", "edits"},
		}},
		{Name: "archive_reflection", Description: "Archive a pending reflection document", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"date": prop("string", "pending reflection date")},
			Required:   []string{"date"},
		}},
	}
}

func (s *Server) toolRead(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	f, err := s.deps.Store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	if f == nil {
		return map[string]interface{}{"found": false, "path": path}, nil
	}
	return f, nil
}

func (s *Server) toolWrite(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	result, err := s.deps.Store.Write(ctx, path, content)
	if err != nil {
		return nil, fmt.Errorf("write %q: %w", path, err)
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.Update(ctx, path, content); err != nil {
			return nil, fmt.Errorf("reindex %q: %w", path, err)
		}
	}
	return result, nil
}

func (s *Server) toolList(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	prefix := stringArg(args, "prefix")
	recursive := boolArg(args, "recursive")
	entries, err := s.deps.Store.List(ctx, prefix, recursive)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return entries, nil
}

func (s *Server) toolSearch(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Index == nil {
		return nil, fmt.Errorf("search index not configured")
	}
	query := stringArg(args, "query")
	k := intArg(args, "k", 10)
	results, err := s.deps.Index.Search(ctx, query, k*searchOverfetch, boolArg(args, "timeWeight"))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return filterSearchResults(results, conversationExchangePrefix, true, k), nil
}

func (s *Server) toolHistory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	limit := intArg(args, "limit", 20)
	versions, err := s.deps.Store.GetVersions(ctx, path, limit)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", path, err)
	}
	return versions, nil
}

func (s *Server) toolRollback(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	versionID := stringArg(args, "versionId")
	content, found, err := s.deps.Store.GetVersion(ctx, path, versionID)
	if err != nil {
		return nil, fmt.Errorf("rollback %q: %w", path, err)
	}
	if !found {
		return map[string]interface{}{"found": false, "path": path, "versionId": versionID}, nil
	}
	result, err := s.deps.Store.Write(ctx, path, content)
	if err != nil {
		return nil, fmt.Errorf("rollback write %q: %w", path, err)
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.Update(ctx, path, content); err != nil {
			return nil, fmt.Errorf("reindex %q: %w", path, err)
		}
	}
	return result, nil
}

func (s *Server) toolExecute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Sandbox == nil {
		return nil, fmt.Errorf("sandbox not configured")
	}
	code := stringArg(args, "code")
	result, sandboxErr := s.deps.Sandbox.Execute(ctx, code)
	if sandboxErr != nil {
		// Sandbox failures are a contract, not a Go error: spec §7 wants
		// {error, details} returned as a normal (non-isError) tool result.
		return map[string]interface{}{"error": sandboxErr.Message, "details": sandboxErr.Details}, nil
	}
	return map[string]interface{}{"result": result}, nil
}

func (s *Server) toolSearchConversations(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Index == nil {
		return nil, fmt.Errorf("search index not configured")
	}
	query := stringArg(args, "query")
	k := intArg(args, "k", 10)
	results, err := s.deps.Index.Search(ctx, query, k*searchOverfetch, false)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	return filterSearchResults(results, conversationExchangePrefix, false, k), nil
}

func (s *Server) toolIndexConversations(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Conversations == nil {
		return nil, fmt.Errorf("conversation indexer not configured")
	}
	raw := stringArg(args, "session")
	result, err := s.deps.Conversations.IndexSession(ctx, []byte(raw))
	if err != nil {
		return nil, fmt.Errorf("index conversations: %w", err)
	}
	return result, nil
}

func (s *Server) toolExpandConversation(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Conversations == nil {
		return nil, fmt.Errorf("conversation indexer not configured")
	}
	sessionID := stringArg(args, "sessionId")
	exchangeID := stringArg(args, "exchangeId")
	exchanges, err := s.deps.Conversations.Expand(ctx, sessionID, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("expand conversation: %w", err)
	}
	return exchanges, nil
}

func (s *Server) toolConversationStats(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Conversations == nil {
		return nil, fmt.Errorf("conversation indexer not configured")
	}
	stats, err := s.deps.Conversations.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation stats: %w", err)
	}
	return stats, nil
}

func (s *Server) toolScheduleReminder(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Reminders == nil {
		return nil, fmt.Errorf("reminder scheduler not configured")
	}
	r := reminder.Reminder{
		Type:        reminder.Type(stringArg(args, "type")),
		Expression:  stringArg(args, "expression"),
		Description: stringArg(args, "description"),
		Payload:     stringArg(args, "payload"),
	}
	scheduled, err := s.deps.Reminders.Schedule(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("schedule reminder: %w", err)
	}
	return scheduled, nil
}

func (s *Server) toolListReminders(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Reminders == nil {
		return nil, fmt.Errorf("reminder scheduler not configured")
	}
	reminders, err := s.deps.Reminders.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return reminders, nil
}

func (s *Server) toolRemoveReminder(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Reminders == nil {
		return nil, fmt.Errorf("reminder scheduler not configured")
	}
	id := stringArg(args, "id")
	removed, err := s.deps.Reminders.Remove(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("remove reminder: %w", err)
	}
	return map[string]interface{}{"removed": removed, "id": id}, nil
}

func (s *Server) toolCheckReminders(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Reminders == nil {
		return nil, fmt.Errorf("reminder scheduler not configured")
	}
	fired, err := s.deps.Reminders.Check(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("check reminders: %w", err)
	}
	return fired, nil
}

func (s *Server) toolListPendingReflections(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Staging == nil {
		return nil, fmt.Errorf("reflection staging not configured")
	}
	pending, err := s.deps.Staging.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending reflections: %w", err)
	}
	return pending, nil
}

func (s *Server) toolApplyReflectionChanges(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Reflection == nil {
		return nil, fmt.Errorf("reflection controller not configured")
	}
	date := stringArg(args, "date")
	edits := intSliceArg(args, "edits")
	archive := boolArg(args, "archive")
	result, err := s.deps.Reflection.ApplyChanges(ctx, date, edits, archive)
	if err != nil {
		return nil, fmt.Errorf("apply reflection changes: %w", err)
	}
	return result, nil
}

func (s *Server) toolArchiveReflection(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if s.deps.Staging == nil {
		return nil, fmt.Errorf("reflection staging not configured")
	}
	date := stringArg(args, "date")
	if err := s.deps.Staging.Archive(ctx, date); err != nil {
		return nil, fmt.Errorf("archive reflection: %w", err)
	}
	return map[string]interface{}{"archived": true, "date": date}, nil
}

func intSliceArg(args map[string]interface{}, key string) []int {
	v, ok := args[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case json.Number:
			if i, err := n.Int64(); err == nil {
				out = append(out, int(i))
			}
		}
	}
	return out
}
