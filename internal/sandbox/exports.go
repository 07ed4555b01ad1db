package sandbox

import (
	"reflect"

	"github.com/traefik/yaegi/interp"
)

// memoryExports builds the Yaegi symbol table exposing this package's
// MemoryAPI type and a bound "memory" instance to interpreted code,
// following the same interp.Exports shape as yaegi/stdlib.Symbols.
func memoryExports(memory MemoryAPI) interp.Exports {
	const pkgPath = "github.com/oscillatelabsllc/memoria/internal/sandbox/sandbox"
	return interp.Exports{
		pkgPath: map[string]reflect.Value{
			"Memory":    reflect.ValueOf(memory),
			"MemoryAPI": reflect.ValueOf((*MemoryAPI)(nil)),
			"Entry":     reflect.ValueOf(Entry{}),
		},
	}
}
