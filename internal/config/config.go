// Package config reads the environment-variable configuration surface
// (spec §6) the same way the teacher's cmd/engram/main.go does: each
// setting has a sensible default except the auth token, which is
// mandatory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds every setting needed to wire up memoriad.
type Config struct {
	// AuthToken gates every /mcp and /reflect request (spec §6).
	AuthToken string

	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string

	// ObjectStorePath is the DuckDB file backing the object store (C4).
	ObjectStorePath string

	// IndexStorePath is the DuckDB file backing the semantic index (C3).
	IndexStorePath string

	// EmbeddingBaseURL, EmbeddingModel, EmbeddingDim configure the
	// embedding client (grounded in the teacher's Ollama embedding
	// client), used by both the memory index and the conversation index.
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingDim     int

	// LLMBaseURL/LLMAPIKey select the OpenAI-compatible chat endpoint.
	// PrimaryModel is used for deep analysis and legacy reflection;
	// FastModel is used for the quick-scan phase (spec §4.9).
	LLMBaseURL   string
	LLMAPIKey    string
	PrimaryModel string
	FastModel    string

	// UseAgenticReflection selects the two-phase tool-calling controller
	// over the single-prompt legacy fallback (spec §4.9, default true).
	UseAgenticReflection bool

	// Webhook notifies a chat space when a reflection run produces
	// actionable output (spec §4.9). Notification is a no-op if
	// WebhookURL is empty.
	WebhookURL     string
	WebhookAuthKey string
	WebhookSpaceID string
}

// Load reads Config from the process environment, applying the same
// kind of defaults as the teacher's main.go.
func Load() (Config, error) {
	authToken := os.Getenv("AUTH_TOKEN")
	if authToken == "" {
		return Config{}, fmt.Errorf("config: AUTH_TOKEN is required")
	}

	cfg := Config{
		AuthToken:            authToken,
		ListenAddr:           envOr("LISTEN_ADDR", ":8080"),
		ObjectStorePath:      envOr("OBJECT_STORE_PATH", filepath.Join(".", "memoria.duckdb")),
		IndexStorePath:       envOr("INDEX_STORE_PATH", filepath.Join(".", "memoria-index.duckdb")),
		EmbeddingBaseURL:     envOr("EMBEDDING_BASE_URL", "http://localhost:11434"),
		EmbeddingModel:       envOr("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDim:         envIntOr("EMBEDDING_DIM", 768),
		LLMBaseURL:           envOr("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:            os.Getenv("LLM_API_KEY"),
		PrimaryModel:         envOr("LLM_PRIMARY_MODEL", "llama3.1"),
		FastModel:            envOr("LLM_FAST_MODEL", "llama3.1:8b"),
		UseAgenticReflection: envBoolOr("USE_AGENTIC_REFLECTION", true),
		WebhookURL:           os.Getenv("CHAT_WEBHOOK_URL"),
		WebhookAuthKey:       os.Getenv("CHAT_WEBHOOK_AUTH_KEY"),
		WebhookSpaceID:       os.Getenv("CHAT_WEBHOOK_SPACE_ID"),
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
