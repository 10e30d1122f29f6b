package federation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// VerdictExport is the function a verdict module must export:
// (i64 digest) -> i32, where a non-zero result is a positive verdict.
const VerdictExport = "verdict"

// ErrVerdictExport is returned when a module lacks a usable verdict export.
var ErrVerdictExport = errors.New("federation: wasm module has no verdict(i64) i32 export")

// WasmOracle delegates verdicts to a sandboxed WebAssembly module. The module
// gets no imports: no filesystem, clock, network or randomness, so its verdict
// depends only on the digest it is handed.
type WasmOracle struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	verdict api.Function
}

// NewWasmOracle compiles and instantiates wasmBytes. memoryPages caps the
// module's linear memory in 64KiB pages; zero keeps the runtime default.
func NewWasmOracle(ctx context.Context, wasmBytes []byte, memoryPages uint32) (*WasmOracle, error) {
	rcfg := wazero.NewRuntimeConfig()
	if memoryPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(memoryPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rcfg)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("federation: compile verdict module: %w", err)
	}
	fn, ok := compiled.ExportedFunctions()[VerdictExport]
	if !ok || !sameTypes(fn.ParamTypes(), api.ValueTypeI64) || !sameTypes(fn.ResultTypes(), api.ValueTypeI32) {
		_ = r.Close(ctx)
		return nil, ErrVerdictExport
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("verdict").WithStartFunctions())
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("federation: instantiate verdict module: %w", err)
	}
	return &WasmOracle{runtime: r, module: mod, verdict: mod.ExportedFunction(VerdictExport)}, nil
}

func sameTypes(got []api.ValueType, want ...api.ValueType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// Verdict hashes the peer, entity and DNA hash with FNV-1a and passes the
// digest to the module.
func (o *WasmOracle) Verdict(ctx context.Context, peerID, entityID, dnaHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(peerID + "|" + entityID + "|" + dnaHash))

	o.mu.Lock()
	defer o.mu.Unlock()
	res, err := o.verdict.Call(ctx, h.Sum64())
	if err != nil {
		return false, fmt.Errorf("federation: verdict module: %w", err)
	}
	return api.DecodeI32(res[0]) != 0, nil
}

// Close releases the runtime and its compiled code.
func (o *WasmOracle) Close(ctx context.Context) error {
	return o.runtime.Close(ctx)
}
