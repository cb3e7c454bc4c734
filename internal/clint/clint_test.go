package clint

import (
	"testing"
	"time"

	"github.com/tinyhart/rvcore/internal/csr"
)

func newHarts(n int) []*csr.File {
	harts := make([]*csr.File, n)
	for i := range harts {
		harts[i] = csr.New(64, uint64(i))
	}
	return harts
}

func TestMsipRaisesMSIP(t *testing.T) {
	harts := newHarts(2)
	c := New(harts)

	if err := c.Write(regMsipBase+4, 4, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if harts[1].Mip&csr.MipMSIP == 0 {
		t.Fatal("hart 1 MSIP should be set")
	}
	if harts[0].Mip&csr.MipMSIP != 0 {
		t.Fatal("hart 0 MSIP should be untouched")
	}

	if err := c.Write(regMsipBase+4, 4, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if harts[1].Mip&csr.MipMSIP != 0 {
		t.Fatal("hart 1 MSIP should be cleared")
	}
}

func TestMtimecmpTick(t *testing.T) {
	harts := newHarts(1)
	c := New(harts)
	c.startTime = time.Now().Add(-time.Second) // force Mtime() well past zero

	if err := c.Write(regMtimecmpBase, 8, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Tick()
	if harts[0].Mip&csr.MipMTIP == 0 {
		t.Fatal("MTIP should be set once mtime passes mtimecmp=0")
	}
}

func TestSstcStimecmp(t *testing.T) {
	harts := newHarts(1)
	harts[0].Menvcfg |= csr.MenvcfgSTCE
	harts[0].Stimecmp = 0
	c := New(harts)
	c.startTime = time.Now().Add(-time.Second)

	c.Tick()
	if harts[0].Mip&csr.MipSTIP == 0 {
		t.Fatal("STIP should be set once mtime passes stimecmp under Sstc")
	}

	harts[0].Stimecmp = ^uint64(0)
	c.Tick()
	if harts[0].Mip&csr.MipSTIP != 0 {
		t.Fatal("STIP should clear once stimecmp is pushed back out")
	}
}

func TestMtimeReadUnaffectedByHartCount(t *testing.T) {
	c := New(newHarts(4))
	if _, err := c.Read(regMtime, 8); err != nil {
		t.Fatalf("read: %v", err)
	}
}
