package gic

import (
	"fmt"

	"github.com/MrXinWang/cloud-hypervisor/internal/debug"
)

// Redistributor register offsets. The RD frame starts at 0; the SGI frame
// sits one 64 KiB frame above it.
const (
	gicrSGIOffset uint32 = 0x0001_0000

	gicrCtlr      uint32 = 0x0000
	gicrStatusr   uint32 = 0x0010
	gicrWaker     uint32 = 0x0014
	gicrPropbaser uint32 = 0x0070
	gicrPendbaser uint32 = 0x0078

	gicrIgroupr0    = gicrSGIOffset + 0x0080
	gicrIsenabler0  = gicrSGIOffset + 0x0100
	gicrIcenabler0  = gicrSGIOffset + 0x0180
	gicrIspendr0    = gicrSGIOffset + 0x0200
	gicrIcpendr0    = gicrSGIOffset + 0x0280
	gicrIsactiver0  = gicrSGIOffset + 0x0300
	gicrIcactiver0  = gicrSGIOffset + 0x0380
	gicrIpriorityr0 = gicrSGIOffset + 0x0400
	gicrIcfgr0      = gicrSGIOffset + 0x0c00
)

// mpidrMask selects the affinity bits of a GICR_TYPER value; the kernel
// expects them in the top half of the attribute ID to address the per-vCPU
// register frame.
const mpidrMask uint64 = 0xffffffff_00000000

// redistReg is one redistributor register range: byte offset and length.
// 64-bit registers are accessed as two 4-byte words, matching the kernel's
// redistributor attribute granularity.
type redistReg struct {
	base   uint32
	length uint32
}

// vgicRedistRegs enumerates exactly the architected per-vCPU redistributor
// state, RD frame first, then the SGI frame. List order is the serialized
// word order of the state record.
var vgicRedistRegs = []redistReg{
	{base: gicrCtlr, length: 4},
	{base: gicrStatusr, length: 4},
	{base: gicrWaker, length: 4},
	{base: gicrPropbaser, length: 8},
	{base: gicrPendbaser, length: 8},
	{base: gicrIgroupr0, length: 4},
	{base: gicrIsenabler0, length: 4},
	{base: gicrIcenabler0, length: 4},
	{base: gicrIcfgr0, length: 8},
	{base: gicrIcpendr0, length: 4},
	{base: gicrIspendr0, length: 4},
	{base: gicrIcactiver0, length: 4},
	{base: gicrIsactiver0, length: 4},
	{base: gicrIpriorityr0, length: 32},
}

// redistAttr builds the attribute ID addressing one register word of the
// redistributor owned by the vCPU with the given GICR_TYPER value.
func redistAttr(typer uint64, offset uint32) uint64 {
	return (typer & mpidrMask) | uint64(offset)
}

// getRedistRegs reads every vCPU's redistributor block, concatenated in
// vCPU order. The per-vCPU frame is addressed through the GICR_TYPER value,
// not the vCPU index.
func getRedistRegs(dev Device, gicrTypers []uint64) ([]uint32, error) {
	debug.Writef("gic redist codec read", "vcpus: %d", len(gicrTypers))

	var state []uint32
	for _, typer := range gicrTypers {
		for _, reg := range vgicRedistRegs {
			for offset := reg.base; offset < reg.base+reg.length; offset += regWordSize {
				val, err := dev.GetAttr32(GrpRedistRegs, redistAttr(typer, offset))
				if err != nil {
					return nil, fmt.Errorf("read redistributor register %#x (typer %#x): %w", offset, typer, err)
				}
				state = append(state, val)
			}
		}
	}

	return state, nil
}

// setRedistRegs writes an ordered word sequence produced by getRedistRegs
// back into the per-vCPU redistributor blocks.
func setRedistRegs(dev Device, gicrTypers []uint64, state []uint32) error {
	debug.Writef("gic redist codec write", "vcpus: %d, words: %d", len(gicrTypers), len(state))

	idx := 0
	for _, typer := range gicrTypers {
		for _, reg := range vgicRedistRegs {
			for offset := reg.base; offset < reg.base+reg.length; offset += regWordSize {
				if idx >= len(state) {
					return fmt.Errorf("redistributor state too short: %d words", len(state))
				}
				if err := dev.SetAttr32(GrpRedistRegs, redistAttr(typer, offset), state[idx]); err != nil {
					return fmt.Errorf("write redistributor register %#x (typer %#x): %w", offset, typer, err)
				}
				idx++
			}
		}
	}

	return nil
}
