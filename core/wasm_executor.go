package core

import (
	"fmt"
	"sync"
	"time"

	wasmer "github.com/wasmerio/wasmer-go/wasmer"
)

// SandboxInfo tracks a running Wasm sandbox's resource ceiling, used
// by sandbox introspection commands.
type SandboxInfo struct {
	ManifestCID CID
	MemoryLimit uint32
	CPULimitMS  uint64
	Started     time.Time
	Active      bool
}

// WasmModuleLoader fetches compiled Wasm bytecode by manifest CID
// (the external collaborator supplying module content).
type WasmModuleLoader interface {
	LoadModule(manifestCID CID) ([]byte, error)
}

// SandboxedWasmExecutor runs Wasm-kind jobs in a wasmer-go sandbox,
// metering gas via the host import surface and tracking active
// sandboxes for introspection.
type SandboxedWasmExecutor struct {
	loader WasmModuleLoader
	store  BlockStore
	self   DID

	mu        sync.Mutex
	sandboxes map[CID]*SandboxInfo
}

// NewSandboxedWasmExecutor wires a Wasm executor to its module loader
// and output store.
func NewSandboxedWasmExecutor(loader WasmModuleLoader, store BlockStore, self DID) *SandboxedWasmExecutor {
	return &SandboxedWasmExecutor{
		loader:    loader,
		store:     store,
		self:      self,
		sandboxes: make(map[CID]*SandboxInfo),
	}
}

// ListSandboxes returns a snapshot of currently tracked sandboxes.
func (x *SandboxedWasmExecutor) ListSandboxes() map[CID]SandboxInfo {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[CID]SandboxInfo, len(x.sandboxes))
	for k, v := range x.sandboxes {
		out[k] = *v
	}
	return out
}

// Run compiles and executes the module addressed by manifestCID,
// invoking its "run" export with input copied into linear memory, and
// returns the CID of its captured output.
func (x *SandboxedWasmExecutor) Run(manifestCID CID, input []byte, maxExecSecs uint64) (CID, uint64, error) {
	code, err := x.loader.LoadModule(manifestCID)
	if err != nil {
		return CID{}, 0, fmt.Errorf("%w: load module: %v", ErrStorageError, err)
	}

	info := &SandboxInfo{ManifestCID: manifestCID, CPULimitMS: maxExecSecs * 1000, Started: time.Now(), Active: true}
	x.mu.Lock()
	x.sandboxes[manifestCID] = info
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		info.Active = false
		x.mu.Unlock()
	}()

	start := time.Now()
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, code)
	if err != nil {
		return CID{}, 0, fmt.Errorf("%w: compile module: %v", ErrInternal, err)
	}

	importObject := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return CID{}, 0, fmt.Errorf("%w: instantiate module: %v", ErrInternal, err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err == nil && mem != nil && len(input) > 0 {
		data := mem.Data()
		n := len(input)
		if n > len(data) {
			n = len(data)
		}
		copy(data[:n], input[:n])
	}

	run, err := instance.Exports.GetFunction("run")
	if err != nil {
		return CID{}, 0, fmt.Errorf("%w: missing run export: %v", ErrInvalidParameters, err)
	}
	var result any
	runErr := WithExecDeadline(maxExecSecs, func() error {
		r, err := run()
		result = r
		return err
	})
	cpuMillis := uint64(time.Since(start).Milliseconds())
	if runErr != nil {
		return CID{}, cpuMillis, runErr
	}

	payload := []byte(fmt.Sprintf("%v", result))
	now := time.Now()
	cid := ComputeCID(CodecOutput, payload, nil, now.UnixNano(), x.self, nil, "")
	blk := Block{CID: cid, Codec: CodecOutput, Data: payload, Timestamp: now, Author: x.self}
	if _, err := x.store.Put(blk); err != nil {
		return CID{}, cpuMillis, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return cid, cpuMillis, nil
}
