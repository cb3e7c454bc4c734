// Package uart implements a 16550-compatible serial port as a
// membus.Device, the guest's console for both input and output.
package uart

import "io"

const (
	regRBR = 0 // receive buffer (read) / transmit holding (write)
	regIER = 1
	regIIR = 2 // read: interrupt id; write: FIFO control
	regLCR = 3
	regMCR = 4
	regLSR = 5
	regMSR = 6
	regSCR = 7
)

const (
	lsrDataReady = 1 << 0
	lsrTHREmpty  = 1 << 5
	lsrTxEmpty   = 1 << 6
)

const iirNoInterrupt = 1 << 0

const Size uint64 = 0x1000

// UART is a single-FIFO 16550 model: no baud-rate emulation, input
// pushed by the host via EnqueueInput rather than read from a real
// serial line.
type UART struct {
	Output io.Writer
	Input  io.Reader

	IER, IIR, FCR, LCR, MCR, LSR, MSR, SCR uint8
	DLL, DLH                               uint8

	inputBuffer []byte
	inputPos    int

	InterruptPending bool
	OnInterrupt      func(pending bool)
}

func New(output io.Writer, input io.Reader) *UART {
	return &UART{
		Output: output,
		Input:  input,
		LSR:    lsrTHREmpty | lsrTxEmpty,
		IIR:    iirNoInterrupt,
	}
}

func (u *UART) Name() string { return "uart" }
func (u *UART) Size() uint64 { return Size }

func (u *UART) Read(offset uint64, size int) (uint64, error) {
	if size != 1 {
		return 0, nil
	}
	dlab := u.LCR&0x80 != 0

	switch offset {
	case regRBR:
		if dlab {
			return uint64(u.DLL), nil
		}
		data := uint8(0)
		if u.inputPos < len(u.inputBuffer) {
			data = u.inputBuffer[u.inputPos]
			u.inputPos++
			if u.inputPos >= len(u.inputBuffer) {
				u.inputBuffer, u.inputPos = nil, 0
			}
		}
		u.updateLSR()
		return uint64(data), nil
	case regIER:
		if dlab {
			return uint64(u.DLH), nil
		}
		return uint64(u.IER), nil
	case regIIR:
		return uint64(u.IIR), nil
	case regLCR:
		return uint64(u.LCR), nil
	case regMCR:
		return uint64(u.MCR), nil
	case regLSR:
		u.updateLSR()
		return uint64(u.LSR), nil
	case regMSR:
		return uint64(u.MSR), nil
	case regSCR:
		return uint64(u.SCR), nil
	}
	return 0, nil
}

func (u *UART) Write(offset uint64, size int, value uint64) error {
	if size != 1 {
		return nil
	}
	data := uint8(value)
	dlab := u.LCR&0x80 != 0

	switch offset {
	case regRBR: // THR
		if dlab {
			u.DLL = data
			return nil
		}
		if u.Output != nil {
			u.Output.Write([]byte{data})
		}
	case regIER:
		if dlab {
			u.DLH = data
			return nil
		}
		u.IER = data
		u.updateInterrupt()
	case regIIR: // FCR
		u.FCR = data
		if data&0x01 != 0 && data&0x02 != 0 {
			u.inputBuffer, u.inputPos = nil, 0
		}
	case regLCR:
		u.LCR = data
	case regMCR:
		u.MCR = data
	case regSCR:
		u.SCR = data
	}
	return nil
}

func (u *UART) Trim(offset, length uint64) error { return nil }
func (u *UART) Sync() error                      { return nil }
func (u *UART) Close() error                     { return nil }

func (u *UART) updateLSR() {
	u.LSR = lsrTHREmpty | lsrTxEmpty
	if u.inputPos < len(u.inputBuffer) {
		u.LSR |= lsrDataReady
	}
}

func (u *UART) updateInterrupt() {
	pending := false
	switch {
	case u.IER&0x01 != 0 && u.inputPos < len(u.inputBuffer):
		pending = true
		u.IIR = 0x04
	case u.IER&0x02 != 0:
		pending = true
		u.IIR = 0x02
	default:
		u.IIR = iirNoInterrupt
	}
	if pending != u.InterruptPending {
		u.InterruptPending = pending
		if u.OnInterrupt != nil {
			u.OnInterrupt(pending)
		}
	}
}

// EnqueueInput appends guest-visible input bytes, e.g. forwarded from
// a host terminal or test harness.
func (u *UART) EnqueueInput(data []byte) {
	u.inputBuffer = append(u.inputBuffer, data...)
	u.updateLSR()
	u.updateInterrupt()
}
