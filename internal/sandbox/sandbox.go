// Package sandbox implements the code sandbox (spec §4.7, C7): a
// user-supplied script is interpreted, not compiled, so a broken script
// can fail without taking the host process down with it. Grounded in the
// Yaegi-based tool executor pattern (package whitelist + goroutine +
// context timeout) rather than a transplanted JS engine, per the spec's
// "bounded query DSL" allowance.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultTimeout is the execution budget for a single script (spec §4.7:
// "strict timeout of 30 seconds ... recommended but not mandated").
const DefaultTimeout = 30 * time.Second

// MemoryAPI is the read-only surface exposed to sandboxed scripts as
// "memory". Implementations typically wrap objectstore.Store directly.
type MemoryAPI interface {
	Read(ctx context.Context, path string) (string, bool, error)
	List(ctx context.Context, path string) ([]Entry, error)
}

// Entry mirrors the {path, size, updated_at} shape returned by memory.list.
type Entry struct {
	Path      string `json:"path"`
	Size      int    `json:"size"`
	UpdatedAt string `json:"updated_at"`
}

// Error is the structured failure contract returned to callers instead of
// a raw Go error, so a JSON-RPC layer can flag isError without inspecting
// error strings.
type Error struct {
	Message string `json:"error"`
	Details string `json:"details"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Message, e.Details) }

func execError(details string) *Error {
	return &Error{Message: "Execution failed", Details: details}
}

// allowedPackages is the stdlib import whitelist. Anything granting
// filesystem, network, process, or unsafe access is deliberately absent.
var allowedPackages = map[string]bool{
	"strings":         true,
	"strconv":         true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"encoding/json":   true,
	"encoding/base64": true,
	"time":            true,
	"sort":            true,
	"bytes":           true,
	"path":            true,
	"errors":          true,
}

// Sandbox executes user scripts against a fixed MemoryAPI.
type Sandbox struct {
	memory MemoryAPI
}

// New creates a sandbox whose scripts see memory as their only API.
func New(memory MemoryAPI) *Sandbox {
	return &Sandbox{memory: memory}
}

// scriptFunc is the signature every script body must resolve to once
// wrapped: a function of the memory API returning a JSON-serializable
// value or an error.
type scriptFunc func(ctx context.Context, memory MemoryAPI) (interface{}, error)

// Execute interprets code and runs it with ctx bounded to DefaultTimeout
// (or ctx's own deadline, whichever is sooner). code must define:
//
//	func Run(ctx context.Context, memory sandbox.MemoryAPI) (interface{}, error)
//
// Code without a "package main" clause gets one prepended, together with
// imports of context and this package unless the code already imports them.
//
// Any failure — parse, forbidden import, runtime panic, or timeout — is
// returned as *Error rather than propagated as a bare error, so callers
// never need to distinguish "crashed" from "returned an error".
func (s *Sandbox) Execute(ctx context.Context, code string) (result interface{}, sandboxErr *Error) {
	if err := validateImports(code); err != nil {
		return nil, execError(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, execError(fmt.Sprintf("failed to load stdlib: %v", err))
	}
	if err := i.Use(memoryExports(s.memory)); err != nil {
		return nil, execError(fmt.Sprintf("failed to load memory API: %v", err))
	}

	defer func() {
		if r := recover(); r != nil {
			sandboxErr = execError(fmt.Sprintf("panic: %v", r))
		}
	}()

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, execError(err.Error())
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return nil, execError("script must define func Run(ctx context.Context, memory sandbox.MemoryAPI) (interface{}, error)")
	}
	run, ok := v.Interface().(func(context.Context, MemoryAPI) (interface{}, error))
	if !ok {
		return nil, execError("Run has an incorrect signature")
	}

	type outcome struct {
		val interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		val, err := run(ctx, s.memory)
		done <- outcome{val: val, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, execError(o.err.Error())
		}
		return o.val, nil
	case <-ctx.Done():
		return nil, execError(fmt.Sprintf("script timed out: %v", ctx.Err()))
	}
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	var header strings.Builder
	header.WriteString("package main\n\n")
	for _, pkg := range []string{"context", "github.com/oscillatelabsllc/memoria/internal/sandbox"} {
		if !strings.Contains(code, `"`+pkg+`"`) {
			fmt.Fprintf(&header, "import %q\n", pkg)
		}
	}
	return header.String() + "\n" + code
}

func validateImports(code string) error {
	lines := strings.Split(code, "\n")
	var imports []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if pkg == "context" || pkg == "github.com/oscillatelabsllc/memoria/internal/sandbox" {
			continue
		}
		if !allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %s", strings.Join(forbidden, ", "))
	}
	return nil
}
