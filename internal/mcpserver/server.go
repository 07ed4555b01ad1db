package mcpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/oscillatelabsllc/memoria/internal/conversation"
	"github.com/oscillatelabsllc/memoria/internal/indexsvc"
	"github.com/oscillatelabsllc/memoria/internal/objectstore"
	"github.com/oscillatelabsllc/memoria/internal/reflection"
	"github.com/oscillatelabsllc/memoria/internal/reminder"
	"github.com/oscillatelabsllc/memoria/internal/sandbox"
)

// Version is reported by GET /health.
const Version = "0.1.0"

// Deps wires every component C10 fans requests out to.
type Deps struct {
	Store         objectstore.Store
	Index         *indexsvc.Service
	Reminders     *reminder.Scheduler
	Conversations *conversation.Indexer
	Sandbox       *sandbox.Sandbox
	Staging       *reflection.Staging
	Reflection    *reflection.Controller
	AuthToken     string
}

// Server is the HTTP boundary: one /mcp JSON-RPC endpoint plus /health
// and /reflect, following the teacher's chi + cors + middleware stack.
type Server struct {
	deps   Deps
	router *chi.Mux
	tools  map[string]toolHandler
}

type toolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// NewServer builds the router and tool registry.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, tools: map[string]toolHandler{}}
	s.registerTools()
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(s.requireAuth)
		r.Post("/mcp", s.handleMCP)
		r.Post("/reflect", s.handleReflect)
	})

	s.router = r
}

// ServeHTTP lets Server itself be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// requireAuth enforces the bearer-token contract in spec §6/§7: missing
// or malformed header returns HTTP 401 with a JSON-RPC -32001 error body
// regardless of which endpoint was hit, and the token comparison is
// constant-time so timing can't leak the secret.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeAuthError(w, "missing or malformed Authorization header")
			return
		}
		token := strings.TrimPrefix(header, prefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.AuthToken)) != 1 {
			writeAuthError(w, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusUnauthorized, newError(nil, codeAuthFailed, reason))
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, newError(nil, codeParseError, "malformed JSON"))
		return
	}

	switch req.Method {
	case "tools/list":
		writeJSON(w, http.StatusOK, newResult(req.ID, map[string]interface{}{"tools": s.toolDefinitions()}))

	case "tools/call":
		var params toolCallParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				writeJSON(w, http.StatusOK, newError(req.ID, codeInvalidParams, "invalid params"))
				return
			}
		}
		handler, ok := s.tools[params.Name]
		if !ok {
			writeJSON(w, http.StatusOK, newError(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool %q", params.Name)))
			return
		}

		value, err := handler(r.Context(), params.Arguments)
		var result toolCallResult
		if err != nil {
			result = errorResult("Execution failed", err)
		} else {
			result = textResult(value)
		}
		writeJSON(w, http.StatusOK, newResult(req.ID, result))

	default:
		writeJSON(w, http.StatusOK, newError(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func (s *Server) handleReflect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reflection == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reflection controller not configured"})
		return
	}
	date := time.Now().UTC().Format("2006-01-02")
	if q := r.URL.Query().Get("date"); q != "" {
		date = q
	}
	result, err := s.deps.Reflection.Run(r.Context(), date)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func intArg(args map[string]interface{}, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolArg(args map[string]interface{}, key string) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
