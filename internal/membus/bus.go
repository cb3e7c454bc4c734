// Package membus implements the physical memory backing and the device
// bus: an ordered list of address ranges each bound to a device, with
// MMIO dispatch. Unmapped reads return zero; unmapped writes are
// discarded — the core never raises a bus fault to the guest for a
// missing device.
package membus

import (
	"encoding/binary"
	"fmt"
)

var Endian = binary.LittleEndian

// Device is the interface every memory-mapped peripheral implements to
// register on the bus. Trim and Sync exist for block-style devices
// (e.g. a disk image) layered on top by an external collaborator; RAM
// and the reference CLINT/PLIC/UART devices leave them as no-ops.
type Device interface {
	Name() string
	Size() uint64
	Read(offset uint64, size int) (uint64, error)
	Write(offset uint64, size int, value uint64) error
	Trim(offset, length uint64) error
	Sync() error
	Close() error
}

// RAM is a flat byte-addressable memory region.
type RAM struct {
	data []byte
}

// NewRAM allocates a zeroed RAM region of the given size.
func NewRAM(size uint64) *RAM {
	return &RAM{data: make([]byte, size)}
}

func (r *RAM) Name() string { return "ram" }
func (r *RAM) Size() uint64 { return uint64(len(r.data)) }

func (r *RAM) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(r.data)) {
		return 0, fmt.Errorf("membus: ram read out of bounds offset=0x%x size=%d", offset, size)
	}
	switch size {
	case 1:
		return uint64(r.data[offset]), nil
	case 2:
		return uint64(Endian.Uint16(r.data[offset:])), nil
	case 4:
		return uint64(Endian.Uint32(r.data[offset:])), nil
	case 8:
		return Endian.Uint64(r.data[offset:]), nil
	default:
		return 0, fmt.Errorf("membus: invalid read size %d", size)
	}
}

func (r *RAM) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(r.data)) {
		return fmt.Errorf("membus: ram write out of bounds offset=0x%x size=%d", offset, size)
	}
	switch size {
	case 1:
		r.data[offset] = byte(value)
	case 2:
		Endian.PutUint16(r.data[offset:], uint16(value))
	case 4:
		Endian.PutUint32(r.data[offset:], uint32(value))
	case 8:
		Endian.PutUint64(r.data[offset:], value)
	default:
		return fmt.Errorf("membus: invalid write size %d", size)
	}
	return nil
}

func (r *RAM) Trim(offset, length uint64) error { return nil }
func (r *RAM) Sync() error                      { return nil }
func (r *RAM) Close() error                     { return nil }

// Bytes exposes the backing slice for bulk loads (bootrom, DTB, disk
// images) and for the JIT cache to hand pointer-stable page ranges to a
// real code generator backend.
func (r *RAM) Bytes() []byte { return r.data }

// mapping binds a device to a base address.
type mapping struct {
	base uint64
	size uint64
	dev  Device
}

// Bus routes physical addresses to RAM or a registered device.
type Bus struct {
	ramBase  uint64
	ram      *RAM
	mappings []mapping
}

// New creates a bus with RAM mapped at ramBase.
func New(ramBase uint64, ram *RAM) *Bus {
	return &Bus{ramBase: ramBase, ram: ram}
}

// RAM returns the bus's backing RAM region.
func (b *Bus) RAM() *RAM { return b.ram }

// RAMBase returns the physical base address of RAM.
func (b *Bus) RAMBase() uint64 { return b.ramBase }

// AddDevice maps a device at the given physical base address.
func (b *Bus) AddDevice(base uint64, dev Device) {
	b.mappings = append(b.mappings, mapping{base: base, size: dev.Size(), dev: dev})
}

// InRAM reports whether addr falls within the RAM window.
func (b *Bus) InRAM(addr uint64) bool {
	return addr >= b.ramBase && addr < b.ramBase+b.ram.Size()
}

func (b *Bus) find(addr uint64) (Device, uint64, bool) {
	if b.InRAM(addr) {
		return b.ram, addr - b.ramBase, true
	}
	for _, m := range b.mappings {
		if addr >= m.base && addr < m.base+m.size {
			return m.dev, addr - m.base, true
		}
	}
	return nil, 0, false
}

// Read performs an MMIO-dispatching read. Reads from unmapped addresses
// return zero with no error.
func (b *Bus) Read(addr uint64, size int) (uint64, error) {
	dev, off, ok := b.find(addr)
	if !ok {
		return 0, nil
	}
	return dev.Read(off, size)
}

// Write performs an MMIO-dispatching write. Writes to unmapped
// addresses are discarded.
func (b *Bus) Write(addr uint64, size int, value uint64) error {
	dev, off, ok := b.find(addr)
	if !ok {
		return nil
	}
	return dev.Write(off, size, value)
}

func (b *Bus) Read8(addr uint64) (uint8, error) {
	v, err := b.Read(addr, 1)
	return uint8(v), err
}
func (b *Bus) Read16(addr uint64) (uint16, error) {
	v, err := b.Read(addr, 2)
	return uint16(v), err
}
func (b *Bus) Read32(addr uint64) (uint32, error) {
	v, err := b.Read(addr, 4)
	return uint32(v), err
}
func (b *Bus) Read64(addr uint64) (uint64, error) {
	return b.Read(addr, 8)
}
func (b *Bus) Write8(addr uint64, v uint8) error   { return b.Write(addr, 1, uint64(v)) }
func (b *Bus) Write16(addr uint64, v uint16) error { return b.Write(addr, 2, uint64(v)) }
func (b *Bus) Write32(addr uint64, v uint32) error { return b.Write(addr, 4, uint64(v)) }
func (b *Bus) Write64(addr uint64, v uint64) error { return b.Write(addr, 8, v) }

// LoadBytes copies data into the bus's address space starting at addr,
// taking the RAM fast path when the whole range lies in RAM.
func (b *Bus) LoadBytes(addr uint64, data []byte) error {
	if b.InRAM(addr) && addr+uint64(len(data)) <= b.ramBase+b.ram.Size() {
		copy(b.ram.data[addr-b.ramBase:], data)
		return nil
	}
	for i, v := range data {
		if err := b.Write8(addr+uint64(i), v); err != nil {
			return err
		}
	}
	return nil
}

// Fetch reads up to 4 bytes at addr, returning only the first 2 if the
// low bits indicate a compressed instruction — mirrors the interpreter's
// "read 2, peek, maybe read 2 more" fetch sequence.
func (b *Bus) Fetch(addr uint64) (uint32, error) {
	lo, err := b.Read16(addr)
	if err != nil {
		return 0, err
	}
	if lo&0x3 != 0x3 {
		return uint32(lo), nil
	}
	hi, err := b.Read16(addr + 2)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | (uint32(hi) << 16), nil
}
