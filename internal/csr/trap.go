package csr

// PendingInterrupt returns the highest-priority pending and enabled
// interrupt, if any, in the fixed priority order the privileged spec
// mandates: machine before supervisor, external before software before
// timer within each.
func (f *File) PendingInterrupt() (Cause, bool) {
	pending := f.Mip & f.Mie
	if pending == 0 {
		return 0, false
	}

	mEnabled := f.Priv < Machine || f.Mstatus&StatusMIE != 0
	sEnabled := f.Priv < Supervisor || (f.Priv == Supervisor && f.Mstatus&StatusSIE != 0)

	type candidate struct {
		bit     uint64
		cause   Cause
		enabled bool
	}
	order := []candidate{
		{MipMEIP, CauseMExternalInt, mEnabled},
		{MipMSIP, CauseMSoftwareInt, mEnabled},
		{MipMTIP, CauseMTimerInt, mEnabled},
		{MipSEIP, CauseSExternalInt, sEnabled},
		{MipSSIP, CauseSSoftwareInt, sEnabled},
		{MipSTIP, CauseSTimerInt, sEnabled},
	}
	for _, c := range order {
		if pending&c.bit != 0 && c.enabled {
			return c.cause, true
		}
	}
	return 0, false
}

// Enter delivers a trap: it decides delegation to S-mode versus M-mode
// from medeleg/mideleg, updates the xstatus stack and privilege, and
// returns the PC the hart should resume fetching from.
func (f *File) Enter(cause Cause, tval uint64, pc uint64) uint64 {
	delegate := f.Priv <= Supervisor && f.delegated(cause)

	if delegate {
		f.Sepc = pc
		f.Scause = uint64(cause)
		f.Stval = tval
		if f.Mstatus&StatusSIE != 0 {
			f.Mstatus |= StatusSPIE
		} else {
			f.Mstatus &^= StatusSPIE
		}
		f.Mstatus &^= StatusSIE
		if f.Priv == Supervisor {
			f.Mstatus |= StatusSPP
		} else {
			f.Mstatus &^= StatusSPP
		}
		f.Priv = Supervisor
		return f.vectoredTarget(f.Stvec, cause)
	}

	f.Mepc = pc
	f.Mcause = uint64(cause)
	f.Mtval = tval
	if f.Mstatus&StatusMIE != 0 {
		f.Mstatus |= StatusMPIE
	} else {
		f.Mstatus &^= StatusMPIE
	}
	f.Mstatus &^= StatusMIE
	f.Mstatus &^= StatusMPP
	f.Mstatus |= uint64(f.Priv) << StatusMPPShift
	f.Priv = Machine
	return f.vectoredTarget(f.Mtvec, cause)
}

func (f *File) delegated(cause Cause) bool {
	if cause.IsInterrupt() {
		return f.Mideleg&(1<<cause.Code()) != 0
	}
	return f.Medeleg&(1<<cause.Code()) != 0
}

func (f *File) vectoredTarget(tvec uint64, cause Cause) uint64 {
	if tvec&1 == 1 && cause.IsInterrupt() {
		return (tvec &^ 1) + 4*cause.Code()
	}
	return tvec &^ 3
}

// Xret performs the privilege and status transition for MRET/SRET,
// returning the PC to resume at. to must be Machine or Supervisor.
func (f *File) Xret(to Priv) uint64 {
	if to == Machine {
		pc := f.Mepc
		if f.Mstatus&StatusMPIE != 0 {
			f.Mstatus |= StatusMIE
		} else {
			f.Mstatus &^= StatusMIE
		}
		f.Mstatus |= StatusMPIE
		prev := Priv((f.Mstatus & StatusMPP) >> StatusMPPShift)
		f.Mstatus &^= StatusMPP
		if prev != Machine {
			f.Mstatus &^= StatusMPRV
		}
		f.Priv = prev
		return pc
	}
	pc := f.Sepc
	if f.Mstatus&StatusSPIE != 0 {
		f.Mstatus |= StatusSIE
	} else {
		f.Mstatus &^= StatusSIE
	}
	f.Mstatus |= StatusSPIE
	prev := User
	if f.Mstatus&StatusSPP != 0 {
		prev = Supervisor
	}
	f.Mstatus &^= StatusSPP
	if prev != Machine {
		f.Mstatus &^= StatusMPRV
	}
	f.Priv = prev
	return pc
}
