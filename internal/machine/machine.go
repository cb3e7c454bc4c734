// Package machine assembles harts, the shared bus, and the CLINT/PLIC/UART
// devices into a runnable multi-hart system, and drives one goroutine per
// hart the way a real multi-core platform would.
package machine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyhart/rvcore/internal/clint"
	"github.com/tinyhart/rvcore/internal/csr"
	"github.com/tinyhart/rvcore/internal/jit"
	"github.com/tinyhart/rvcore/internal/membus"
	"github.com/tinyhart/rvcore/internal/mmu"
	"github.com/tinyhart/rvcore/internal/plic"
	"github.com/tinyhart/rvcore/internal/riscv"
	"github.com/tinyhart/rvcore/internal/uart"
)

// ErrHalt is returned by Run when the machine was stopped via Halt.
var ErrHalt = errors.New("machine: halted")

// UART interrupt source on the PLIC, matching the virt platform layout
// most RISC-V guest kernels expect.
const uartIRQ = 10

// Config describes the shape of a machine to build: hart count, XLEN,
// and RAM size. internal/config loads a YAML document with matching
// fields into its own config.Machine; nothing converts that into a Config.
type Config struct {
	NumHarts int
	XLEN     int
	RAMSize  uint64

	Output io.Writer
	Input  io.Reader

	Logger *slog.Logger

	// JITCacheSize enables a per-hart translation cache of the given
	// byte size when non-zero. Zero leaves every hart on plain
	// interpretation with no cache lookups at all.
	JITCacheSize uint64
}

// Machine owns every hart, the shared bus, and the platform devices,
// and schedules hart execution.
type Machine struct {
	Harts []*riscv.Hart
	Bus   *membus.Bus
	CLINT *clint.CLINT
	PLIC  *plic.PLIC
	UART  *uart.UART

	// JIT holds one translation cache per hart, indexed the same as
	// Harts. Entries are nil when the machine was built without a JIT
	// cache configured.
	JIT []*jit.Cache

	logger *slog.Logger
	halted atomic.Bool
}

// New builds a machine per cfg: one hart per cfg.NumHarts, a shared bus
// with RAM at riscv.RAMBase, and CLINT/PLIC/UART wired to every hart.
func New(cfg Config) *Machine {
	if cfg.NumHarts <= 0 {
		cfg.NumHarts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bus := membus.New(riscv.RAMBase, membus.NewRAM(cfg.RAMSize))

	harts := make([]*riscv.Hart, cfg.NumHarts)
	for i := range harts {
		harts[i] = riscv.New(uint64(i), cfg.XLEN, bus)
		harts[i].CSR.Seed = entropySource
	}

	c := clint.New(hartCSRs(harts))
	p := plic.New(hartCSRs(harts))
	u := uart.New(cfg.Output, cfg.Input)
	u.OnInterrupt = func(pending bool) { p.SetPending(uartIRQ, pending) }

	for _, h := range harts {
		h.CSR.TimeSource = c.Mtime
	}

	bus.AddDevice(riscv.CLINTBase, c)
	bus.AddDevice(riscv.PLICBase, p)
	bus.AddDevice(riscv.UARTBase, u)

	var caches []*jit.Cache
	if cfg.JITCacheSize > 0 {
		caches = make([]*jit.Cache, len(harts))
		for i, h := range harts {
			cache, err := jit.New(cfg.JITCacheSize, &jit.InterpreterCompiler{Hart: h})
			if err != nil {
				cfg.Logger.Warn("jit cache unavailable, falling back to pure interpretation",
					"hart", h.ID, "err", err)
				continue
			}
			h.OnStore = func(addr, size uint64) { cache.MarkDirty(addr, size) }
			caches[i] = cache
		}
	}

	return &Machine{
		Harts:  harts,
		Bus:    bus,
		CLINT:  c,
		PLIC:   p,
		UART:   u,
		JIT:    caches,
		logger: cfg.Logger,
	}
}

func hartCSRs(harts []*riscv.Hart) []*csr.File {
	files := make([]*csr.File, len(harts))
	for i, h := range harts {
		files[i] = h.CSR
	}
	return files
}

// entropySource backs the seed CSR with a real CSPRNG — the only place
// this module reaches for crypto/rand over math/rand, since seed is
// architecturally required to be unpredictable.
func entropySource() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(buf[:])
}

// LoadBytes copies data into guest physical memory, e.g. a bootrom or
// kernel image.
func (m *Machine) LoadBytes(addr uint64, data []byte) error {
	return m.Bus.LoadBytes(addr, data)
}

// Halt requests every hart's Run loop to stop after its current batch.
func (m *Machine) Halt() { m.halted.Store(true) }

// IsHalted reports whether Halt has been called.
func (m *Machine) IsHalted() bool { return m.halted.Load() }

// Run drives every hart concurrently until ctx is cancelled or Halt is
// called, with a separate goroutine ticking the shared CLINT about every
// 100µs so wall-clock-driven timer interrupts advance independently of
// any single hart's progress.
func (m *Machine) Run(ctx context.Context, yieldAfter int) error {
	if yieldAfter <= 0 {
		yieldAfter = 100_000
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, h := range m.Harts {
		h := h
		var cache *jit.Cache
		if i < len(m.JIT) {
			cache = m.JIT[i]
		}
		g.Go(func() error { return m.runHart(ctx, h, cache, yieldAfter) })
	}
	g.Go(func() error { return m.tickLoop(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, ErrHalt) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Machine) runHart(ctx context.Context, h *riscv.Hart, cache *jit.Cache, yieldAfter int) error {
	for {
		if m.halted.Load() {
			return ErrHalt
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if h.WaitEvent.Load() {
			if _, ok := h.CSR.PendingInterrupt(); ok {
				h.WaitEvent.Store(false)
			} else {
				runtime.Gosched()
				continue
			}
		}

		for i := 0; i < yieldAfter; i++ {
			if err := m.step(h, cache); err != nil {
				return fmt.Errorf("hart %d: step at pc=%#x: %w", h.ID, h.PC, err)
			}
			if h.WaitEvent.Load() || m.halted.Load() {
				break
			}
		}
	}
}

// step advances h by one instruction, consulting cache first when one
// is configured. A translation fault or any other error on the lookup
// path falls back to plain interpretation, which re-derives and
// delivers the correct trap through the hart's own fault handling.
func (m *Machine) step(h *riscv.Hart, cache *jit.Cache) error {
	if cache == nil {
		return h.Step()
	}

	physPC, err := h.MMU.Translate(h.CSR, h.PC, mmu.AccessExecute)
	if err != nil {
		return h.Step()
	}

	if block, ok := cache.Lookup(physPC); ok {
		return block.Run()
	}

	block, err := cache.Compile(physPC, []jit.DecodedInsn{{PC: physPC}})
	if err != nil {
		return h.Step()
	}
	return block.Run()
}

// tickLoop re-evaluates the CLINT's MTIP/STIP against mtime about every
// 100µs, on its own goroutine and unsynchronized with hart batches, and
// wakes any WFI-parked hart whose mip & mie is non-zero.
func (m *Machine) tickLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if m.halted.Load() {
			return ErrHalt
		}
		m.CLINT.Tick()
		for _, h := range m.Harts {
			if h.CSR.Mip&h.CSR.Mie != 0 {
				h.WaitEvent.Store(false)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}
