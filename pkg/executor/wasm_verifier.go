package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// wasmInput is the JSON payload fed to a playbook's verification module
// on stdin: the adapter's result, in the same shape evaluatePredicate
// exposes to CEL.
type wasmInput struct {
	OK   bool           `json:"ok"`
	Data map[string]any `json:"data"`
}

// wasmOutput is the JSON the module is expected to print to stdout: a
// single boolean verdict.
type wasmOutput struct {
	Passed bool `json:"passed"`
}

// WazeroVerifier runs a playbook's compiled WASM verification module
// under wazero, deny-by-default: no filesystem, no network, no ambient
// authority, mirroring the teacher's WASISandbox. It is the one
// sandboxed-execution surface spec.md's Non-goals keep in-process.
type WazeroVerifier struct {
	runtime      wazero.Runtime
	moduleConfig wazero.ModuleConfig
	timeout      time.Duration
}

// NewWazeroVerifier constructs a WASM verifier with a bounded memory
// ceiling (in 64KB pages; 0 uses wazero's default) and a per-call CPU
// timeout.
func NewWazeroVerifier(ctx context.Context, memoryLimitPages uint32, timeout time.Duration) *WazeroVerifier {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(memoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	modCfg := wazero.NewModuleConfig().
		WithName("grace-verify").
		WithStartFunctions("_start")
	// Deny-by-default: no WithFSConfig, no WithSysNanotime, no
	// WithRandSource — the module sees only stdin/stdout/stderr.

	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WazeroVerifier{runtime: r, moduleConfig: modCfg, timeout: timeout}
}

// Verify compiles and runs module against result, feeding it JSON on
// stdin and parsing a JSON {"passed": bool} verdict from stdout.
func (w *WazeroVerifier) Verify(ctx context.Context, module []byte, result AdapterResult) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	input, err := json.Marshal(wasmInput{OK: result.OK, Data: result.Data})
	if err != nil {
		return false, fmt.Errorf("executor: marshal wasm input: %w", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := w.moduleConfig.
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	compiled, err := w.runtime.CompileModule(ctx, module)
	if err != nil {
		return false, fmt.Errorf("executor: compile wasm verification module: %w", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := w.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("executor: wasm verification timed out after %v", w.timeout)
		}
		return false, fmt.Errorf("executor: instantiate wasm verification module: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	var out wasmOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return false, fmt.Errorf("executor: parse wasm verdict (stderr: %q): %w", stderr.String(), err)
	}
	return out.Passed, nil
}

// Close releases the underlying wazero runtime.
func (w *WazeroVerifier) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}
