package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "machine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeTemp(t, `
xlen: 64
numHarts: 4
ramSize: 268435456
boot:
  - path: kernel.bin
    addr: 0x80000000
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.NumHarts != 4 || m.XLEN != 64 {
		t.Fatalf("got %+v", m)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	path := writeTemp(t, `
boot:
  - path: kernel.bin
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.XLEN != 64 || m.NumHarts != 1 || m.RAMSize == 0 {
		t.Fatalf("defaults not applied: %+v", m)
	}
}

func TestValidateRejectsTooManyHarts(t *testing.T) {
	m := &Machine{XLEN: 64, NumHarts: 2000, RAMSize: 4096, Boot: []BootImage{{Path: "x"}}}
	err := m.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	cfgErr, ok := err.(*Error)
	if !ok || cfgErr.Field != "numHarts" {
		t.Fatalf("got %v, want numHarts error", err)
	}
}

func TestValidateRejectsMissingBootImage(t *testing.T) {
	m := &Machine{XLEN: 64, NumHarts: 1, RAMSize: 4096}
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation error for missing boot image")
	}
}

func TestValidateRejectsBadXLEN(t *testing.T) {
	m := &Machine{XLEN: 16, NumHarts: 1, RAMSize: 4096, Boot: []BootImage{{Path: "x"}}}
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation error for xlen")
	}
}
