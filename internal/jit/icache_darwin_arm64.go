//go:build darwin && arm64

package jit

import (
	"sync"

	"github.com/ebitengine/purego"
)

var (
	icacheOnce   sync.Once
	sysIcacheInv func(start uintptr, length uintptr)
)

func flushIcache(addr uintptr, size int) {
	icacheOnce.Do(func() {
		lib, err := purego.Dlopen("/usr/lib/libSystem.B.dylib", purego.RTLD_GLOBAL|purego.RTLD_NOW)
		if err != nil {
			return
		}
		purego.RegisterLibFunc(&sysIcacheInv, lib, "sys_icache_invalidate")
	})
	if sysIcacheInv != nil {
		sysIcacheInv(addr, uintptr(size))
	}
}

func SupportsCoalescedFlush() bool { return false }
