// Package plic implements a RISC-V Platform-Level Interrupt Controller
// scaled to an arbitrary hart count: each hart gets an M-mode and an
// S-mode interrupt context, register layout otherwise matching the
// SiFive/virt PLIC.
package plic

import (
	"sync"

	"github.com/tinyhart/rvcore/internal/csr"
)

const (
	regPriorityBase  = 0x000000
	regPendingBase   = 0x001000
	regEnableBase    = 0x002000
	regThresholdBase = 0x200000
	contextStride    = 0x1000
	enableStride     = 0x80
)

// MaxSources bounds the interrupt source space; source 0 is reserved
// as "no interrupt" per the PLIC spec.
const MaxSources = 1024

const Size uint64 = 0x0400_0000

// PLIC fans pending device interrupts out to every hart's MEIP/SEIP
// bits, honoring per-context enable masks and priority thresholds.
type PLIC struct {
	mu sync.Mutex

	harts []*csr.File

	priority  [MaxSources]uint32
	pending   [MaxSources / 32]uint32
	enable    [][MaxSources / 32]uint32 // 2 contexts per hart: M, S
	threshold []uint32
	claimed   []uint32
}

// New creates a PLIC serving every hart in harts, two contexts each
// (context 2*i is hart i's M-mode, 2*i+1 its S-mode).
func New(harts []*csr.File) *PLIC {
	n := len(harts) * 2
	return &PLIC{
		harts:     harts,
		enable:    make([][MaxSources / 32]uint32, n),
		threshold: make([]uint32, n),
		claimed:   make([]uint32, n),
	}
}

func (p *PLIC) Name() string { return "plic" }
func (p *PLIC) Size() uint64 { return Size }

func (p *PLIC) Read(offset uint64, size int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < regPendingBase:
		if src := offset / 4; src < MaxSources {
			return uint64(p.priority[src]), nil
		}
	case offset >= regPendingBase && offset < regEnableBase:
		if word := (offset - regPendingBase) / 4; word < uint64(len(p.pending)) {
			return uint64(p.pending[word]), nil
		}
	case offset >= regEnableBase && offset < regThresholdBase:
		rel := offset - regEnableBase
		ctx, word := rel/enableStride, (rel%enableStride)/4
		if int(ctx) < len(p.enable) && word < uint64(len(p.enable[0])) {
			return uint64(p.enable[ctx][word]), nil
		}
	case offset >= regThresholdBase:
		rel := offset - regThresholdBase
		ctx, reg := rel/contextStride, rel%contextStride
		if int(ctx) < len(p.threshold) {
			switch reg {
			case 0:
				return uint64(p.threshold[ctx]), nil
			case 4:
				return uint64(p.claim(int(ctx))), nil
			}
		}
	}
	return 0, nil
}

func (p *PLIC) Write(offset uint64, size int, value uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < regPendingBase:
		if src := offset / 4; src < MaxSources && src > 0 {
			p.priority[src] = uint32(value) & 7
		}
	case offset >= regEnableBase && offset < regThresholdBase:
		rel := offset - regEnableBase
		ctx, word := rel/enableStride, (rel%enableStride)/4
		if int(ctx) < len(p.enable) && word < uint64(len(p.enable[0])) {
			p.enable[ctx][word] = uint32(value)
		}
	case offset >= regThresholdBase:
		rel := offset - regThresholdBase
		ctx, reg := rel/contextStride, rel%contextStride
		if int(ctx) < len(p.threshold) {
			switch reg {
			case 0:
				p.threshold[ctx] = uint32(value) & 7
			case 4:
				p.complete(int(ctx), uint32(value))
			}
		}
	}
	p.updateInterrupts()
	return nil
}

func (p *PLIC) Trim(offset, length uint64) error { return nil }
func (p *PLIC) Sync() error                      { return nil }
func (p *PLIC) Close() error                     { return nil }

// SetPending raises or clears a device's interrupt line.
func (p *PLIC) SetPending(source uint32, pending bool) {
	if source == 0 || source >= MaxSources {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	word, bit := source/32, source%32
	if pending {
		p.pending[word] |= 1 << bit
	} else {
		p.pending[word] &^= 1 << bit
	}
	p.updateInterrupts()
}

func (p *PLIC) claim(ctx int) uint32 {
	if ctx >= len(p.threshold) {
		return 0
	}
	var best, bestPriority uint32
	for src := uint32(1); src < MaxSources; src++ {
		word, bit := src/32, src%32
		if p.pending[word]&(1<<bit) == 0 || p.enable[ctx][word]&(1<<bit) == 0 {
			continue
		}
		if pr := p.priority[src]; pr > p.threshold[ctx] && pr > bestPriority {
			bestPriority, best = pr, src
		}
	}
	if best != 0 {
		word, bit := best/32, best%32
		p.pending[word] &^= 1 << bit
		p.claimed[ctx] = best
	}
	p.updateInterrupts()
	return best
}

func (p *PLIC) complete(ctx int, source uint32) {
	if ctx >= len(p.claimed) || source == 0 || source >= MaxSources {
		return
	}
	if p.claimed[ctx] == source {
		p.claimed[ctx] = 0
	}
	p.updateInterrupts()
}

func (p *PLIC) updateInterrupts() {
	for i, f := range p.harts {
		if p.hasPending(2 * i) {
			f.Mip |= csr.MipMEIP
		} else {
			f.Mip &^= csr.MipMEIP
		}
		if p.hasPending(2*i + 1) {
			f.Mip |= csr.MipSEIP
		} else {
			f.Mip &^= csr.MipSEIP
		}
	}
}

func (p *PLIC) hasPending(ctx int) bool {
	if ctx >= len(p.threshold) {
		return false
	}
	for src := uint32(1); src < MaxSources; src++ {
		word, bit := src/32, src%32
		if p.pending[word]&(1<<bit) == 0 || p.enable[ctx][word]&(1<<bit) == 0 {
			continue
		}
		if p.priority[src] > p.threshold[ctx] {
			return true
		}
	}
	return false
}
