package jit

import (
	"testing"

	"github.com/tinyhart/rvcore/internal/membus"
	"github.com/tinyhart/rvcore/internal/riscv"
)

// stubCompiler counts how many times Compile is invoked, independent
// of any heap or hart wiring, for cache-hit/miss bookkeeping tests.
type stubCompiler struct{ calls int }

func (s *stubCompiler) Compile(heap *Heap, insns []DecodedInsn) (NativeBlock, error) {
	s.calls++
	return stubBlock{}, nil
}

type stubBlock struct{}

func (stubBlock) Run() error { return nil }

func TestCacheMissThenHit(t *testing.T) {
	c := &Cache{
		blocks:     make(map[uint64]NativeBlock),
		dirtyMask:  0,
		dirtyPages: make([]uint32, 1),
		jitedPages: make([]uint32, 1),
		compiler:   &stubCompiler{},
	}

	if _, ok := c.Lookup(0x1000); ok {
		t.Fatal("expected cache miss on first lookup")
	}
	if _, err := c.Compile(0x1000, []DecodedInsn{{PC: 0x1000, Insn: 0x13}}); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := c.Lookup(0x1000); !ok {
		t.Fatal("expected cache hit after compile")
	}
}

func TestMarkDirtyForcesRecompile(t *testing.T) {
	c := &Cache{
		blocks:     make(map[uint64]NativeBlock),
		dirtyMask:  0,
		dirtyPages: make([]uint32, 1),
		jitedPages: make([]uint32, 1),
		compiler:   &stubCompiler{},
	}
	if _, err := c.Compile(0x2000, []DecodedInsn{{PC: 0x2000, Insn: 0x13}}); err != nil {
		t.Fatal(err)
	}
	c.MarkDirty(0x2000, 4)

	if _, ok := c.Lookup(0x2000); ok {
		t.Fatal("expected cache miss after MarkDirty invalidated the page")
	}
}

func TestFlushClearsEverything(t *testing.T) {
	c := &Cache{
		blocks:     make(map[uint64]NativeBlock),
		dirtyMask:  0,
		dirtyPages: make([]uint32, 1),
		jitedPages: make([]uint32, 1),
		compiler:   &stubCompiler{},
		heap:       &Heap{size: 4096},
	}
	if _, err := c.Compile(0x3000, []DecodedInsn{{PC: 0x3000, Insn: 0x13}}); err != nil {
		t.Fatal(err)
	}
	c.Flush()
	if _, ok := c.Lookup(0x3000); ok {
		t.Fatal("expected cache miss after Flush")
	}
}

func TestInterpreterCompilerEquivalence(t *testing.T) {
	bus := membus.New(riscv.RAMBase, membus.NewRAM(4096))
	h := riscv.New(0, 64, bus)

	// addi x1, x0, 1 ; addi x1, x1, 1
	if err := bus.Write32(riscv.RAMBase, 0x00100093); err != nil {
		t.Fatal(err)
	}
	if err := bus.Write32(riscv.RAMBase+4, 0x00108093); err != nil {
		t.Fatal(err)
	}

	comp := &InterpreterCompiler{Hart: h}
	block, err := comp.Compile(nil, []DecodedInsn{
		{PC: riscv.RAMBase, Insn: 0x00100093},
		{PC: riscv.RAMBase + 4, Insn: 0x00108093},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := block.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.X[1] != 2 {
		t.Fatalf("x1 = %d, want 2 (same result as plain interpretation)", h.X[1])
	}
}
