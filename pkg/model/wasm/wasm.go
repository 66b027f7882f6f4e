// Package wasm runs the re-aging network as a WebAssembly module under
// WasmEdge.
//
// The guest exports linear memory as "memory" and three functions:
//
//	alloc(len i32) -> ptr i32
//	dealloc(ptr i32, len i32)
//	reage(in_ptr i32, in_len i32, size i32, out_ptr i32) -> status i32
//
// The input is the planar float32 tensor produced by model.EncodeInput; the
// guest writes a 3×size×size float32 residual at out_ptr and returns 0 on
// success.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/second-state/WasmEdge-go/wasmedge"
	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
)

var pluginsOnce sync.Once

// ErrClosed is returned by Infer after Close.
var ErrClosed = errors.New("wasm model closed")

// Model is a fixed pool of WasmEdge VMs, each loaded with the same module.
// A VM serves one tile at a time, so the pool size bounds how many tiles
// are in flight on the backend.
type Model struct {
	path   string
	vms    chan *wasmedge.VM
	all    []*wasmedge.VM
	confs  []*wasmedge.Configure
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ model.Model = (*Model)(nil)

// New loads the module at path into poolSize VMs.
func New(path string, poolSize int, logger *zap.Logger) (*Model, error) {
	if poolSize <= 0 {
		return nil, fmt.Errorf("wasm pool size must be positive, got %d", poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pluginsOnce.Do(func() {
		wasmedge.SetLogErrorLevel()
		wasmedge.LoadPluginDefaultPaths()
	})

	m := &Model{
		path:   path,
		vms:    make(chan *wasmedge.VM, poolSize),
		logger: logger,
	}
	for i := 0; i < poolSize; i++ {
		conf := wasmedge.NewConfigure(wasmedge.WASI)
		vm, err := newVM(conf, path)
		if err != nil {
			conf.Release()
			m.release()
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		m.confs = append(m.confs, conf)
		m.all = append(m.all, vm)
		m.vms <- vm
	}
	logger.Info("wasm model loaded", zap.String("path", path), zap.Int("vms", poolSize))
	return m, nil
}

func newVM(conf *wasmedge.Configure, path string) (*wasmedge.VM, error) {
	vm := wasmedge.NewVMWithConfig(conf)
	if err := vm.LoadWasmFile(path); err != nil {
		vm.Release()
		return nil, err
	}
	if err := vm.Validate(); err != nil {
		vm.Release()
		return nil, err
	}
	if err := vm.Instantiate(); err != nil {
		vm.Release()
		return nil, err
	}
	return vm, nil
}

// Infer borrows a VM from the pool, waiting until one is free or ctx ends.
func (m *Model) Infer(ctx context.Context, tile *image.NRGBA, ages model.Ages) (*image.NRGBA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	var vm *wasmedge.VM
	select {
	case vm = <-m.vms:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { m.vms <- vm }()

	return runTile(vm, tile, ages)
}

func runTile(vm *wasmedge.VM, tile *image.NRGBA, ages model.Ages) (*image.NRGBA, error) {
	b := tile.Bounds()
	size := b.Dx()
	if b.Dy() != size {
		return nil, fmt.Errorf("tile must be square, got %dx%d", b.Dx(), b.Dy())
	}

	inBytes := model.Float32sToBytes(model.EncodeInput(tile, ages))
	inLen := int32(len(inBytes))
	outLen := int32(3 * size * size * 4)

	inPtr, err := alloc(vm, inLen)
	if err != nil {
		return nil, fmt.Errorf("alloc input: %w", err)
	}
	defer vm.Execute("dealloc", inPtr, inLen)

	outPtr, err := alloc(vm, outLen)
	if err != nil {
		return nil, fmt.Errorf("alloc output: %w", err)
	}
	defer vm.Execute("dealloc", outPtr, outLen)

	// Look the memory up after allocating; alloc may grow it.
	mem := vm.GetActiveModule().FindMemory("memory")
	if mem == nil {
		return nil, errors.New("module does not export memory")
	}
	inData, err := mem.GetData(uint(inPtr), uint(inLen))
	if err != nil {
		return nil, fmt.Errorf("mem input: %w", err)
	}
	copy(inData, inBytes)

	res, err := vm.Execute("reage", inPtr, inLen, int32(size), outPtr)
	if err != nil {
		return nil, fmt.Errorf("reage: %w", err)
	}
	if status := res[0].(int32); status != 0 {
		return nil, fmt.Errorf("reage returned status %d", status)
	}

	outData, err := mem.GetData(uint(outPtr), uint(outLen))
	if err != nil {
		return nil, fmt.Errorf("mem output: %w", err)
	}
	delta, err := model.BytesToFloat32s(outData)
	if err != nil {
		return nil, err
	}
	return model.ApplyResidual(tile, delta)
}

func alloc(vm *wasmedge.VM, n int32) (int32, error) {
	res, err := vm.Execute("alloc", n)
	if err != nil {
		return 0, err
	}
	ptr := res[0].(int32)
	if ptr == 0 {
		return 0, fmt.Errorf("guest returned null pointer for %d bytes", n)
	}
	return ptr, nil
}

// Close waits for in-flight tiles and releases every VM.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.release()
	m.logger.Info("wasm model released", zap.String("path", m.path))
	return nil
}

func (m *Model) release() {
	for _, vm := range m.all {
		vm.Release()
	}
	for _, c := range m.confs {
		c.Release()
	}
	m.all, m.confs = nil, nil
}
