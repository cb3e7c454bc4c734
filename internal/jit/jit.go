// Package jit manages a translation cache for guest basic blocks: a
// phys_pc-keyed lookup table over a code heap, dirty/jited page
// bitmasks for self-modifying-code invalidation, and a W^X memory
// abstraction. It never emits native machine code itself — Compile is
// delegated to an injected Compiler, so a real code-generator backend
// can be plugged in without this package changing.
package jit

import (
	"fmt"

	"github.com/tinyhart/rvcore/internal/bitops"
)

// DecodedInsn is one instruction handed to a Compiler for a basic
// block: the raw encoding plus the physical address it was fetched
// from, in fetch order.
type DecodedInsn struct {
	PC   uint64
	Insn uint32
}

// NativeBlock is a compiled basic block ready to execute. Run invokes
// it against the interpreter state through whatever calling convention
// the Compiler and its backend agree on; this package never inspects
// the bytes.
type NativeBlock interface {
	Run() error
}

// Compiler turns a straight-line sequence of guest instructions into a
// NativeBlock placed somewhere in the Cache's Heap. Implementations
// decide their own calling convention and code generation strategy;
// Cache only tracks the phys_pc -> NativeBlock mapping and invalidation.
type Compiler interface {
	Compile(heap *Heap, insns []DecodedInsn) (NativeBlock, error)
}

const (
	pageShift   = 12
	regionShift = 17 // each dirty-bitmask word covers a 128KiB region
	bitsPerWord = 32
)

// Cache maps guest physical PCs to compiled blocks over a code heap,
// tracking which pages have ever been jited and which have since been
// written to by the guest (self-modifying code).
type Cache struct {
	heap *Heap

	mu     bitops.Spinlock
	blocks map[uint64]NativeBlock

	dirtyMask  uint64
	dirtyPages []uint32
	jitedPages []uint32

	compiler Compiler
}

// New allocates a code heap of the given size and returns a Cache
// backed by it. If the heap cannot be allocated (host hardening,
// unsupported platform), it returns a nil *Cache and a non-nil error;
// callers fall back to pure interpretation rather than treat this as
// fatal, per this module's error-handling design.
func New(size uint64, compiler Compiler) (*Cache, error) {
	heap, err := newHeap(size)
	if err != nil {
		return nil, fmt.Errorf("jit: allocate code heap: %w", err)
	}

	mask := nextPow2((size+(1<<regionShift)-1)>>regionShift) - 1
	n := mask + 1

	return &Cache{
		heap:       heap,
		blocks:     make(map[uint64]NativeBlock),
		dirtyMask:  mask,
		dirtyPages: make([]uint32, n),
		jitedPages: make([]uint32, n),
		compiler:   compiler,
	}, nil
}

func nextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}

func (c *Cache) pageIndex(addr uint64) (word uint64, bit uint32) {
	word = (addr >> regionShift) & c.dirtyMask
	bit = uint32(1) << ((addr >> pageShift) & (bitsPerWord - 1))
	return
}

func (c *Cache) markJited(addr uint64) {
	word, bit := c.pageIndex(addr)
	c.jitedPages[word] |= bit
}

// MarkDirty invalidates every page in [addr, addr+size) that has ever
// held jited code, so Lookup recompiles rather than runs stale native
// code after the guest writes to its own instruction stream.
func (c *Cache) MarkDirty(addr, size uint64) {
	if size == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for page := addr >> pageShift; page <= (addr+size-1)>>pageShift; page++ {
		word, bit := c.pageIndex(page << pageShift)
		if c.jitedPages[word]&bit != 0 {
			c.dirtyPages[word] |= bit
			c.jitedPages[word] &^= bit
		}
	}
}

func (c *Cache) needsFlush(addr uint64) bool {
	word, bit := c.pageIndex(addr)
	if c.dirtyPages[word]&bit == 0 {
		return false
	}
	c.dirtyPages[word] &^= bit
	return true
}

// Lookup returns the compiled block for phys_pc, if one exists and its
// page has not been invalidated since compilation.
func (c *Cache) Lookup(physPC uint64) (NativeBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.needsFlush(physPC) {
		base := physPC &^ 0xfff
		for i := uint64(0); i < 4096; i++ {
			delete(c.blocks, base+i)
		}
		return nil, false
	}

	b, ok := c.blocks[physPC]
	return b, ok
}

// Compile compiles insns (which must start at physPC) and installs the
// result into the cache, returning it for immediate execution.
func (c *Cache) Compile(physPC uint64, insns []DecodedInsn) (NativeBlock, error) {
	block, err := c.compiler.Compile(c.heap, insns)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.blocks[physPC] = block
	c.markJited(physPC)
	c.mu.Unlock()

	return block, nil
}

// Flush discards every compiled block and resets the heap, e.g. after
// an sfence.vma-scale event the guest signals as "assume everything
// changed" rather than tracking per-page.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = make(map[uint64]NativeBlock)
	for i := range c.dirtyPages {
		c.dirtyPages[i] = 0
		c.jitedPages[i] = 0
	}
	c.heap.reset()
}
