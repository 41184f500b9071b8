package gic

import (
	"fmt"

	"github.com/MrXinWang/cloud-hypervisor/internal/debug"
)

// sysRegEncoding packs a system register name (op0, op1, CRn, CRm, op2)
// into the low 16 bits of a CPU-interface attribute ID, the way the kernel
// addresses ICC registers.
func sysRegEncoding(op0, op1, crn, crm, op2 uint64) uint64 {
	return op0<<14 | op1<<11 | crn<<7 | crm<<3 | op2
}

// CPU-interface system registers of the GICv3.
var (
	iccSreEl1     = sysRegEncoding(3, 0, 12, 12, 5)
	iccCtlrEl1    = sysRegEncoding(3, 0, 12, 12, 4)
	iccIgrpen0El1 = sysRegEncoding(3, 0, 12, 12, 6)
	iccIgrpen1El1 = sysRegEncoding(3, 0, 12, 12, 7)
	iccPmrEl1     = sysRegEncoding(3, 0, 4, 6, 0)
	iccBpr0El1    = sysRegEncoding(3, 0, 12, 8, 3)
	iccBpr1El1    = sysRegEncoding(3, 0, 12, 12, 3)
	iccAp0r0El1   = sysRegEncoding(3, 0, 12, 8, 4)
	iccAp0r1El1   = sysRegEncoding(3, 0, 12, 8, 5)
	iccAp0r2El1   = sysRegEncoding(3, 0, 12, 8, 6)
	iccAp0r3El1   = sysRegEncoding(3, 0, 12, 8, 7)
	iccAp1r0El1   = sysRegEncoding(3, 0, 12, 9, 0)
	iccAp1r1El1   = sysRegEncoding(3, 0, 12, 9, 1)
	iccAp1r2El1   = sysRegEncoding(3, 0, 12, 9, 2)
	iccAp1r3El1   = sysRegEncoding(3, 0, 12, 9, 3)
)

// vgicICCRegs enumerates exactly the architected per-vCPU CPU-interface
// state. List order is the serialized word order of the state record.
var vgicICCRegs = []uint64{
	iccSreEl1,
	iccCtlrEl1,
	iccIgrpen0El1,
	iccIgrpen1El1,
	iccPmrEl1,
	iccBpr0El1,
	iccBpr1El1,
	iccAp0r0El1,
	iccAp0r1El1,
	iccAp0r2El1,
	iccAp0r3El1,
	iccAp1r0El1,
	iccAp1r1El1,
	iccAp1r2El1,
	iccAp1r3El1,
}

// iccAttr builds the attribute ID addressing one CPU-interface register of
// the vCPU with the given GICR_TYPER value.
func iccAttr(typer uint64, reg uint64) uint64 {
	return (typer & mpidrMask) | reg
}

// getICCRegs reads every vCPU's CPU-interface registers, concatenated in
// vCPU order.
func getICCRegs(dev Device, gicrTypers []uint64) ([]uint32, error) {
	debug.Writef("gic icc codec read", "vcpus: %d", len(gicrTypers))

	var state []uint32
	for _, typer := range gicrTypers {
		for _, reg := range vgicICCRegs {
			val, err := dev.GetAttr32(GrpCPUSysRegs, iccAttr(typer, reg))
			if err != nil {
				return nil, fmt.Errorf("read CPU interface register %#x (typer %#x): %w", reg, typer, err)
			}
			state = append(state, val)
		}
	}

	return state, nil
}

// setICCRegs writes an ordered word sequence produced by getICCRegs back
// into the per-vCPU CPU-interface registers.
func setICCRegs(dev Device, gicrTypers []uint64, state []uint32) error {
	debug.Writef("gic icc codec write", "vcpus: %d, words: %d", len(gicrTypers), len(state))

	idx := 0
	for _, typer := range gicrTypers {
		for _, reg := range vgicICCRegs {
			if idx >= len(state) {
				return fmt.Errorf("CPU interface state too short: %d words", len(state))
			}
			if err := dev.SetAttr32(GrpCPUSysRegs, iccAttr(typer, reg), state[idx]); err != nil {
				return fmt.Errorf("write CPU interface register %#x (typer %#x): %w", reg, typer, err)
			}
			idx++
		}
	}

	return nil
}
