// Package config loads and validates the YAML description of a machine
// to build: hart count, XLEN, memory size, and the boot images to load.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	maxHarts   = 1024
	maxRAMSize = 1 << 40 // 1TiB, generous upper bound against operator typos
	minRAMSize = 4096
)

// BootImage names a file loaded into guest physical memory at Addr.
type BootImage struct {
	Path string `yaml:"path"`
	Addr uint64 `yaml:"addr"`
}

// Machine is the top-level machine description.
type Machine struct {
	XLEN     int    `yaml:"xlen"`
	NumHarts int    `yaml:"numHarts"`
	RAMSize  uint64 `yaml:"ramSize"`
	EntryPC  uint64 `yaml:"entryPC,omitempty"`

	Boot []BootImage `yaml:"boot"`
}

// Error reports a configuration field that failed validation.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Msg) }

func (m *Machine) normalize() {
	if m.XLEN == 0 {
		m.XLEN = 64
	}
	if m.NumHarts == 0 {
		m.NumHarts = 1
	}
	if m.RAMSize == 0 {
		m.RAMSize = 128 * 1024 * 1024
	}
}

// Validate checks the machine description for values the rest of the
// module cannot safely act on, returning the first violation found.
func (m *Machine) Validate() error {
	if m.XLEN != 32 && m.XLEN != 64 {
		return &Error{Field: "xlen", Msg: "must be 32 or 64"}
	}
	if m.NumHarts < 1 || m.NumHarts > maxHarts {
		return &Error{Field: "numHarts", Msg: fmt.Sprintf("must be between 1 and %d", maxHarts)}
	}
	if m.RAMSize < minRAMSize || m.RAMSize > maxRAMSize {
		return &Error{Field: "ramSize", Msg: fmt.Sprintf("must be between %d and %d bytes", minRAMSize, maxRAMSize)}
	}
	if len(m.Boot) == 0 {
		return &Error{Field: "boot", Msg: "at least one boot image is required"}
	}
	for i, img := range m.Boot {
		if img.Path == "" {
			return &Error{Field: fmt.Sprintf("boot[%d].path", i), Msg: "must not be empty"}
		}
	}
	return nil
}

// Load reads and validates a machine description from path.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var m Machine
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	m.normalize()

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
