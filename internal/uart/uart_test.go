package uart

import (
	"bytes"
	"testing"
)

func TestWriteEchoesToOutput(t *testing.T) {
	var out bytes.Buffer
	u := New(&out, nil)

	if err := u.Write(regRBR, 1, 'A'); err != nil {
		t.Fatalf("write: %v", err)
	}
	if out.String() != "A" {
		t.Fatalf("output = %q, want %q", out.String(), "A")
	}
}

func TestEnqueueInputReadBack(t *testing.T) {
	u := New(nil, nil)
	u.EnqueueInput([]byte("hi"))

	lsr, _ := u.Read(regLSR, 1)
	if lsr&lsrDataReady == 0 {
		t.Fatal("LSR data-ready bit should be set after EnqueueInput")
	}

	v, err := u.Read(regRBR, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v != 'h' {
		t.Fatalf("first byte = %q, want 'h'", rune(v))
	}
	v, _ = u.Read(regRBR, 1)
	if v != 'i' {
		t.Fatalf("second byte = %q, want 'i'", rune(v))
	}

	lsr, _ = u.Read(regLSR, 1)
	if lsr&lsrDataReady != 0 {
		t.Fatal("LSR data-ready bit should clear once input is drained")
	}
}

func TestInterruptFiresOnDataReady(t *testing.T) {
	u := New(nil, nil)
	var pending bool
	u.OnInterrupt = func(p bool) { pending = p }

	if err := u.Write(regIER, 1, 0x01); err != nil { // enable RX-ready interrupt
		t.Fatal(err)
	}
	u.EnqueueInput([]byte("x"))
	if !pending {
		t.Fatal("OnInterrupt should have fired with pending=true")
	}

	iir, _ := u.Read(regIIR, 1)
	if iir != 0x04 {
		t.Fatalf("IIR = %#x, want 0x04 (RX data available)", iir)
	}
}

func TestDlabAliasesDivisorLatch(t *testing.T) {
	u := New(nil, nil)
	if err := u.Write(regLCR, 1, 0x80); err != nil { // set DLAB
		t.Fatal(err)
	}
	if err := u.Write(regRBR, 1, 0x0c); err != nil {
		t.Fatal(err)
	}
	if err := u.Write(regIER, 1, 0x00); err != nil {
		t.Fatal(err)
	}
	v, _ := u.Read(regRBR, 1)
	if v != 0x0c {
		t.Fatalf("DLL readback = %#x, want 0x0c", v)
	}
}
