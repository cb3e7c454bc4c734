package mmu

import (
	"testing"

	"github.com/tinyhart/rvcore/internal/csr"
)

type fakeBus struct {
	mem map[uint64]uint64
}

func newFakeBus() *fakeBus { return &fakeBus{mem: map[uint64]uint64{}} }

func (b *fakeBus) Read32(addr uint64) (uint32, error)  { return uint32(b.mem[addr]), nil }
func (b *fakeBus) Write32(addr uint64, v uint32) error { b.mem[addr] = uint64(v); return nil }
func (b *fakeBus) Read64(addr uint64) (uint64, error)  { return b.mem[addr], nil }
func (b *fakeBus) Write64(addr uint64, v uint64) error { b.mem[addr] = v; return nil }

func TestBareModeIdentityMaps(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, 64)
	f := csr.New(64, 0)
	f.Priv = csr.User
	paddr, err := m.Translate(f, 0x1234, AccessRead)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if paddr != 0x1234 {
		t.Fatalf("bare mode should identity map, got 0x%x", paddr)
	}
}

func TestMachineModeBypassesTranslation(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, 64)
	f := csr.New(64, 0)
	f.Satp = satpModeSv39 << 60
	paddr, err := m.Translate(f, 0x1234, AccessRead)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if paddr != 0x1234 {
		t.Fatalf("machine mode should bypass translation, got 0x%x", paddr)
	}
}

// buildSv39 constructs a single-level (giant 1GiB page) Sv39 mapping
// from vaddr's VPN2 to a leaf PTE with the given flags. leafPPN must be
// 1GiB-aligned (a multiple of 0x40000), or the walk faults.
func buildSv39(bus *fakeBus, rootPPN uint64, vpn2 uint64, leafPPN uint64, flags uint64) {
	pteAddr := (rootPPN << pageShift) + vpn2*8
	bus.mem[pteAddr] = (leafPPN << 10) | flags | PteV
}

func TestSv39UserPageWalkAndTLBHit(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, 64)
	f := csr.New(64, 0)
	f.Priv = csr.User
	f.Satp = (satpModeSv39 << 60) | 0x10 // root PPN = 0x10

	vaddr := uint64(0x1_0000_0000) // vpn2 selects index 4 at level 2
	buildSv39(bus, 0x10, 4, 0x40000, PteR|PteW|PteU)

	paddr, err := m.Translate(f, vaddr, AccessRead)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	want := (uint64(0x40000) << pageShift)
	if paddr != want {
		t.Fatalf("got 0x%x, want 0x%x", paddr, want)
	}

	// Corrupt the backing PTE; a TLB hit should still serve the old
	// translation since A is already set from the walk above.
	bus.mem[(0x10<<pageShift)+4*8] = 0
	paddr2, err := m.Translate(f, vaddr, AccessRead)
	if err != nil {
		t.Fatalf("translate (tlb hit): %v", err)
	}
	if paddr2 != want {
		t.Fatalf("tlb hit should reuse cached translation, got 0x%x", paddr2)
	}
}

func TestSv39PermissionDenied(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, 64)
	f := csr.New(64, 0)
	f.Priv = csr.User
	f.Satp = (satpModeSv39 << 60) | 0x10

	vaddr := uint64(0x1_0000_0000)
	buildSv39(bus, 0x10, 4, 0x40000, PteR|PteU) // no write permission

	_, err := m.Translate(f, vaddr, AccessWrite)
	if err == nil {
		t.Fatal("expected page fault for missing write permission")
	}
	pf, ok := err.(*PageFault)
	if !ok {
		t.Fatalf("expected *PageFault, got %T", err)
	}
	if pf.Vaddr != vaddr {
		t.Fatalf("tval = %#x, want faulting vaddr %#x", pf.Vaddr, vaddr)
	}
}

func TestSv39SupervisorCannotAccessUserPageWithoutSUM(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, 64)
	f := csr.New(64, 0)
	f.Priv = csr.Supervisor
	f.Satp = (satpModeSv39 << 60) | 0x10

	vaddr := uint64(0x1_0000_0000)
	buildSv39(bus, 0x10, 4, 0x40000, PteR|PteW|PteU)

	if _, err := m.Translate(f, vaddr, AccessRead); err == nil {
		t.Fatal("expected page fault: SUM not set")
	}

	f.Mstatus |= csr.StatusSUM
	m.Flush()
	if _, err := m.Translate(f, vaddr, AccessRead); err != nil {
		t.Fatalf("SUM set should permit access: %v", err)
	}
}

func TestFlushInvalidatesTLB(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, 64)
	f := csr.New(64, 0)
	f.Priv = csr.User
	f.Satp = (satpModeSv39 << 60) | 0x10

	vaddr := uint64(0x1_0000_0000)
	buildSv39(bus, 0x10, 4, 0x40000, PteR|PteW|PteU)
	if _, err := m.Translate(f, vaddr, AccessRead); err != nil {
		t.Fatalf("translate: %v", err)
	}

	// Remove the mapping entirely and flush; a fresh walk should fault.
	delete(bus.mem, (uint64(0x10)<<pageShift)+4*8)
	m.Flush()
	if _, err := m.Translate(f, vaddr, AccessRead); err == nil {
		t.Fatal("expected page fault after flush removed the backing PTE")
	}
}
