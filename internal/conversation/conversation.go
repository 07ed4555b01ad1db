// Package conversation implements the content-hash-driven conversation
// indexer (spec §4.6, C6): sessions are parsed into user/assistant
// exchanges, deduplicated by a hash of the full session payload, and
// pushed into the search index (indexsvc) for later semantic recall.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/oscillatelabsllc/memoria/internal/objectstore"
)

const (
	indexKey        = "conversations/index.json"
	maxPromptChars  = 2000
	sessionKeyFmt   = "conversations/sessions/%s.json"
	exchangeKeyFmt  = "conversations/exchanges/%s.txt"
	userMessageMark = "\nUser message: "
)

// Exchange is a single user-prompt/assistant-response pair.
type Exchange struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"sessionId"`
	Project            string    `json:"project"`
	UserPrompt         string    `json:"userPrompt"`
	AssistantResponse  string    `json:"assistantResponse"`
	Timestamp          time.Time `json:"timestamp"`
	MessageIndex       int       `json:"messageIndex"`
}

// Index is the persisted conversation index blob.
type Index struct {
	Exchanges     []Exchange        `json:"exchanges"`
	SessionHashes map[string]uint32 `json:"sessionHashes"`
	LastUpdated   time.Time         `json:"lastUpdated"`
}

// Result reports the outcome of IndexSession.
type Result struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// RawMessage is one message in a raw session payload.
type RawMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// RawSession is the wire shape of a chat session to be indexed.
type RawSession struct {
	ID        string       `json:"id"`
	Project   string       `json:"project"`
	CreatedAt time.Time    `json:"createdAt"`
	Messages  []RawMessage `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Embedder is the subset of indexsvc.Service needed to push exchange text
// into the search index. Expressed as an interface for testability.
type Embedder interface {
	Update(ctx context.Context, path, content string) error
	Delete(ctx context.Context, path string) error
}

// Indexer owns the conversation index blob exclusively.
type Indexer struct {
	store objectstore.Store
	embed Embedder
}

// NewIndexer creates a conversation indexer backed by store, pushing
// exchange text into embed for semantic search.
func NewIndexer(store objectstore.Store, embed Embedder) *Indexer {
	return &Indexer{store: store, embed: embed}
}

func (idx *Indexer) load(ctx context.Context) (Index, error) {
	f, err := idx.store.Read(ctx, indexKey)
	if err != nil {
		return Index{}, fmt.Errorf("conversation: load index: %w", err)
	}
	if f == nil {
		return Index{SessionHashes: map[string]uint32{}}, nil
	}
	var out Index
	if err := json.Unmarshal([]byte(f.Content), &out); err != nil {
		return Index{}, fmt.Errorf("conversation: parse index: %w", err)
	}
	if out.SessionHashes == nil {
		out.SessionHashes = map[string]uint32{}
	}
	return out, nil
}

func (idx *Indexer) save(ctx context.Context, index Index) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("conversation: marshal index: %w", err)
	}
	if _, err := idx.store.Write(ctx, indexKey, string(data)); err != nil {
		return fmt.Errorf("conversation: persist index: %w", err)
	}
	return nil
}

// hashPayload computes a deterministic 32-bit hash over the session's raw
// UTF-8 bytes (spec requires "a fast 32-bit rolling hash"; FNV-1a over the
// payload satisfies determinism and speed without needing true rolling
// semantics, which nothing downstream depends on).
func hashPayload(raw []byte) uint32 {
	h := fnv.New32a()
	h.Write(raw)
	return h.Sum32()
}

// IndexSession parses rawJSON as a session payload and incrementally
// updates the conversation index. Re-indexing an identical payload is a
// no-op that reports Unchanged.
func (idx *Indexer) IndexSession(ctx context.Context, rawJSON []byte) (Result, error) {
	var session RawSession
	if err := json.Unmarshal(rawJSON, &session); err != nil {
		return Result{}, fmt.Errorf("conversation: parse session: %w", err)
	}

	newHash := hashPayload(rawJSON)
	index, err := idx.load(ctx)
	if err != nil {
		return Result{}, err
	}

	oldHash, existed := index.SessionHashes[session.ID]
	if existed && oldHash == newHash {
		return Result{Unchanged: 1}, nil
	}

	// Remove existing exchanges for this session.
	var kept []Exchange
	for _, e := range index.Exchanges {
		if e.SessionID != session.ID {
			kept = append(kept, e)
		}
	}

	fresh := parseExchanges(session)
	index.Exchanges = append(kept, fresh...)
	index.SessionHashes[session.ID] = newHash
	index.LastUpdated = time.Now().UTC()

	if _, err := idx.store.Write(ctx, fmt.Sprintf(sessionKeyFmt, session.ID), string(rawJSON)); err != nil {
		return Result{}, fmt.Errorf("conversation: persist raw session: %w", err)
	}

	for _, e := range fresh {
		text := fmt.Sprintf("[%s] %s\n\nResponse: %s", e.Project, e.UserPrompt, e.AssistantResponse)
		exchangePath := fmt.Sprintf(exchangeKeyFmt, e.ID)
		if _, err := idx.store.Write(ctx, exchangePath, text); err != nil {
			return Result{}, fmt.Errorf("conversation: persist exchange %s: %w", e.ID, err)
		}
		if idx.embed != nil {
			if err := idx.embed.Update(ctx, exchangePath, text); err != nil {
				return Result{}, fmt.Errorf("conversation: index exchange %s: %w", e.ID, err)
			}
		}
	}

	if err := idx.save(ctx, index); err != nil {
		return Result{}, err
	}

	if existed {
		return Result{Updated: 1}, nil
	}
	return Result{Added: 1}, nil
}

// Expand returns the exchanges for a session. If exchangeId is non-empty
// and the raw session is still available, a ±2-exchange window around it
// is returned; otherwise all exchanges for the session are returned. If
// the raw session payload is missing, Expand falls back to whatever
// exchanges remain in the index for that session.
func (idx *Indexer) Expand(ctx context.Context, sessionID, exchangeID string) ([]Exchange, error) {
	f, err := idx.store.Read(ctx, fmt.Sprintf(sessionKeyFmt, sessionID))
	if err != nil {
		return nil, fmt.Errorf("conversation: read raw session: %w", err)
	}
	if f == nil {
		return idx.exchangesFromIndex(ctx, sessionID)
	}

	var session RawSession
	if err := json.Unmarshal([]byte(f.Content), &session); err != nil {
		return idx.exchangesFromIndex(ctx, sessionID)
	}
	exchanges := parseExchanges(session)
	if exchangeID == "" {
		return exchanges, nil
	}

	center := -1
	for i, e := range exchanges {
		if e.ID == exchangeID {
			center = i
			break
		}
	}
	if center == -1 {
		return exchanges, nil
	}
	start := center - 2
	if start < 0 {
		start = 0
	}
	end := center + 3
	if end > len(exchanges) {
		end = len(exchanges)
	}
	return exchanges[start:end], nil
}

func (idx *Indexer) exchangesFromIndex(ctx context.Context, sessionID string) ([]Exchange, error) {
	index, err := idx.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []Exchange
	for _, e := range index.Exchanges {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageIndex < out[j].MessageIndex })
	return out, nil
}

// Stats reports index-wide statistics for the conversation_stats tool.
func (idx *Indexer) Stats(ctx context.Context) (map[string]int, error) {
	index, err := idx.load(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"sessions":  len(index.SessionHashes),
		"exchanges": len(index.Exchanges),
	}, nil
}

// parseExchanges walks a session's messages in order, emitting one
// Exchange per eligible user message paired with the following assistant
// response, per spec §4.6.
func parseExchanges(session RawSession) []Exchange {
	var out []Exchange
	for i, msg := range session.Messages {
		if msg.Role != "user" {
			continue
		}
		content, isString := decodeStringContent(msg.Content)
		if !isString || !isEligibleUserContent(content) {
			continue
		}
		if idx := strings.LastIndex(content, userMessageMark); idx >= 0 {
			content = content[idx+len(userMessageMark):]
		}

		var response string
		for j := i + 1; j < len(session.Messages); j++ {
			if session.Messages[j].Role == "assistant" {
				response = extractAssistantText(session.Messages[j].Content)
				break
			}
		}

		ts := session.CreatedAt
		if msg.Timestamp != nil {
			ts = *msg.Timestamp
		}
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		out = append(out, Exchange{
			ID:                fmt.Sprintf("%s-%d", session.ID, i),
			SessionID:         session.ID,
			Project:           session.Project,
			UserPrompt:        truncate(content),
			AssistantResponse: truncate(response),
			Timestamp:         ts,
			MessageIndex:      i,
		})
	}
	return out
}

func decodeStringContent(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func extractAssistantText(raw json.RawMessage) string {
	if s, ok := decodeStringContent(raw); ok {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" {
				return b.Text
			}
		}
	}
	return ""
}

func isEligibleUserContent(content string) bool {
	if len(content) < 5 {
		return false
	}
	if strings.Contains(content, "<tool_result>") || strings.Contains(content, "tool_use_id") ||
		strings.HasPrefix(content, `{"type":"tool_result"`) {
		return false
	}
	systemPrefixes := []string{"<current_time>", "<system-reminder>", "# Agent Context"}
	for _, p := range systemPrefixes {
		if strings.HasPrefix(content, p) {
			return false
		}
	}
	if strings.Contains(content, "<state_files>") || strings.Contains(content, "<context_status>") {
		return false
	}
	return true
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxPromptChars {
		return string(r[:maxPromptChars])
	}
	return s
}
