// Package clint implements a multi-hart Core Local Interruptor: a
// shared mtime counter plus one msip/mtimecmp pair per hart, mapped as
// a single membus.Device the way SiFive platforms lay it out.
package clint

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyhart/rvcore/internal/csr"
)

// Register layout, one bank of msip/mtimecmp per hart.
const (
	regMsipBase     = 0x0000
	regMtimecmpBase = 0x4000
	regMtime        = 0xbff8
)

const Size uint64 = 0x0001_0000

// CLINT drives the legacy timer path: Tick raises MTIP once mtime
// reaches a hart's mtimecmp, and software rewrites mtimecmp from the
// timer interrupt handler to clear it. For harts with menvcfg.STCE set,
// Tick also raises or clears STIP from that hart's Sstc stimecmp.
type CLINT struct {
	mu sync.Mutex

	harts     []*csr.File
	msip      []atomic.Uint32
	mtimecmp  []uint64
	startTime time.Time
	nsPerTick uint64
}

// New creates a CLINT driving mip.MTIP/MSIP for every hart in harts,
// indexed by its position in the slice (which must match HartID).
func New(harts []*csr.File) *CLINT {
	c := &CLINT{
		harts:     harts,
		msip:      make([]atomic.Uint32, len(harts)),
		mtimecmp:  make([]uint64, len(harts)),
		startTime: time.Now(),
		nsPerTick: 100, // 10MHz tick rate
	}
	for i := range c.mtimecmp {
		c.mtimecmp[i] = ^uint64(0)
	}
	return c
}

func (c *CLINT) Name() string { return "clint" }
func (c *CLINT) Size() uint64 { return Size }

// Mtime is wired as csr.File.TimeSource so every hart's `time` CSR and
// the Sstc comparison read the same wall-clock-derived counter.
func (c *CLINT) Mtime() uint64 {
	return uint64(time.Since(c.startTime).Nanoseconds()) / c.nsPerTick
}

func (c *CLINT) Read(offset uint64, size int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case offset == regMtime:
		return c.Mtime(), nil
	case offset >= regMsipBase && offset < regMsipBase+4*uint64(len(c.harts)):
		hart := (offset - regMsipBase) / 4
		return uint64(c.msip[hart].Load()), nil
	case offset >= regMtimecmpBase && offset < regMtimecmpBase+8*uint64(len(c.harts)):
		hart := (offset - regMtimecmpBase) / 8
		return c.mtimecmp[hart], nil
	}
	return 0, nil
}

func (c *CLINT) Write(offset uint64, size int, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case offset >= regMsipBase && offset < regMsipBase+4*uint64(len(c.harts)):
		hart := (offset - regMsipBase) / 4
		if value&1 != 0 {
			c.msip[hart].Store(1)
			c.harts[hart].Mip |= csr.MipMSIP
		} else {
			c.msip[hart].Store(0)
			c.harts[hart].Mip &^= csr.MipMSIP
		}
	case offset >= regMtimecmpBase && offset < regMtimecmpBase+8*uint64(len(c.harts)):
		hart := (offset - regMtimecmpBase) / 8
		reg := (offset - regMtimecmpBase) % 8
		if size == 4 {
			if reg == 0 {
				c.mtimecmp[hart] = (c.mtimecmp[hart] &^ 0xffffffff) | (value & 0xffffffff)
			} else {
				c.mtimecmp[hart] = (c.mtimecmp[hart] &^ (0xffffffff << 32)) | ((value & 0xffffffff) << 32)
			}
		} else {
			c.mtimecmp[hart] = value
		}
		if c.mtimecmp[hart] > c.Mtime() {
			c.harts[hart].Mip &^= csr.MipMTIP
		}
	}
	return nil
}

func (c *CLINT) Trim(offset, length uint64) error { return nil }
func (c *CLINT) Sync() error                      { return nil }
func (c *CLINT) Close() error                     { return nil }

// Tick recomputes MTIP for every hart against the shared mtime, and
// additionally checks each hart's Sstc stimecmp against its own
// delegated timer-interrupt bit.
func (c *CLINT) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Mtime()
	for i, f := range c.harts {
		if now >= c.mtimecmp[i] {
			f.Mip |= csr.MipMTIP
		}
		if f.Menvcfg&csr.MenvcfgSTCE != 0 && now >= f.Stimecmp {
			f.Mip |= csr.MipSTIP
		} else if f.Menvcfg&csr.MenvcfgSTCE != 0 {
			f.Mip &^= csr.MipSTIP
		}
	}
}
