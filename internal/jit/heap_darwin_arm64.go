//go:build darwin && arm64

package jit

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

// Apple Silicon's hardened runtime forbids a mapping that is ever both
// writable and executable at the same instant; MAP_JIT plus
// pthread_jit_write_protect_np toggles which of the two is active for
// the calling thread, bound here through purego rather than cgo.
const mapJIT = 0x0800

var (
	once            sync.Once
	writeProtectNp  func(enabled bool)
	writeProtectErr error
)

func ensureJITWriteProtect() error {
	once.Do(func() {
		lib, err := purego.Dlopen("/usr/lib/libSystem.B.dylib", purego.RTLD_GLOBAL|purego.RTLD_NOW)
		if err != nil {
			writeProtectErr = fmt.Errorf("dlopen libSystem: %w", err)
			return
		}
		purego.RegisterLibFunc(&writeProtectNp, lib, "pthread_jit_write_protect_np")
	})
	return writeProtectErr
}

func newHeap(size uint64) (*Heap, error) {
	if err := ensureJITWriteProtect(); err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANON|unix.MAP_PRIVATE|mapJIT)
	if err != nil {
		return nil, fmt.Errorf("mmap MAP_JIT heap: %w", err)
	}
	return &Heap{mem: mem, size: size, rwx: false}, nil
}

func (h *Heap) writeProtected(off uint64, code []byte) error {
	writeProtectNp(false)
	copy(h.mem[off:], code)
	writeProtectNp(true)
	return nil
}
