package jit

import "github.com/tinyhart/rvcore/internal/riscv"

// interpreterBlock satisfies NativeBlock by falling back to ordinary
// single-instruction interpretation for every instruction the block
// covers. It emits no native code and never touches the Heap.
type interpreterBlock struct {
	hart  *riscv.Hart
	count int
}

func (b *interpreterBlock) Run() error {
	for i := 0; i < b.count; i++ {
		if err := b.hart.Step(); err != nil {
			return err
		}
	}
	return nil
}

// InterpreterCompiler is the default Compiler used when no real code
// generator backend is configured: it "compiles" a block by doing
// nothing but remembering how many instructions it covers, so the
// Cache's lookup/invalidation machinery is exercised identically to
// how a real backend would use it, while guest-visible behavior stays
// provably identical to pure interpretation.
type InterpreterCompiler struct {
	Hart *riscv.Hart
}

func (c *InterpreterCompiler) Compile(heap *Heap, insns []DecodedInsn) (NativeBlock, error) {
	return &interpreterBlock{hart: c.Hart, count: len(insns)}, nil
}
