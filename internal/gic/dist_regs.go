package gic

import (
	"fmt"

	"github.com/MrXinWang/cloud-hypervisor/internal/debug"
)

// Distributor frame register offsets (GICv3 architecture).
const (
	gicdCtlr       uint32 = 0x0000
	gicdTyper      uint32 = 0x0004
	gicdStatusr    uint32 = 0x0010
	gicdIgroupr    uint32 = 0x0080
	gicdIsenabler  uint32 = 0x0100
	gicdIcenabler  uint32 = 0x0180
	gicdIspendr    uint32 = 0x0200
	gicdIcpendr    uint32 = 0x0280
	gicdIsactiver  uint32 = 0x0300
	gicdIcactiver  uint32 = 0x0380
	gicdIpriorityr uint32 = 0x0400
	gicdIcfgr      uint32 = 0x0c00
	gicdIrouter    uint32 = 0x6000
)

const (
	// spiStart is the first SPI interrupt ID; IDs below it live in the
	// redistributor, not the distributor.
	spiStart uint32 = 32

	// regWordSize is the access granularity of the distributor group.
	regWordSize uint32 = 4
)

// distReg describes one distributor register range. bpi (bits per
// interrupt) sized ranges scale with the interrupt count read from
// GICD_TYPER; fixed ranges carry an explicit byte length instead.
type distReg struct {
	base   uint32
	bpi    uint32
	length uint32
}

// vgicDistRegs enumerates exactly the architected distributor state. The
// list order is the serialized word order of the state record; changing it
// breaks migration compatibility.
var vgicDistRegs = []distReg{
	{base: gicdStatusr, length: 4},
	{base: gicdIgroupr, bpi: 1},
	{base: gicdIsenabler, bpi: 1},
	{base: gicdIcenabler, bpi: 1},
	{base: gicdIspendr, bpi: 1},
	{base: gicdIcpendr, bpi: 1},
	{base: gicdIsactiver, bpi: 1},
	{base: gicdIcactiver, bpi: 1},
	{base: gicdIpriorityr, bpi: 8},
	{base: gicdIcfgr, bpi: 2},
	{base: gicdIrouter, bpi: 64},
}

// span returns the [start, end) byte range of one register group for the
// given interrupt count. SPI-indexed groups skip the words covering
// IDs 0..31.
func (r distReg) span(numIRQs uint32) (start, end uint32) {
	if r.length > 0 {
		return r.base, r.base + r.length
	}
	return r.base + r.bpi*spiStart/8, r.base + r.bpi*numIRQs/8
}

// numInterrupts reads GICD_TYPER and decodes the supported interrupt count.
func numInterrupts(dev Device) (uint32, error) {
	typer, err := dev.GetAttr32(GrpDistRegs, uint64(gicdTyper))
	if err != nil {
		return 0, fmt.Errorf("read GICD_TYPER: %w", err)
	}
	return 32 * ((typer & 0x1f) + 1), nil
}

// getDistRegs reads the distributor register file as an ordered word
// sequence.
func getDistRegs(dev Device) ([]uint32, error) {
	numIRQs, err := numInterrupts(dev)
	if err != nil {
		return nil, err
	}

	debug.Writef("gic dist codec read", "numIRQs: %d", numIRQs)

	var state []uint32
	for _, reg := range vgicDistRegs {
		start, end := reg.span(numIRQs)
		for offset := start; offset < end; offset += regWordSize {
			val, err := dev.GetAttr32(GrpDistRegs, uint64(offset))
			if err != nil {
				return nil, fmt.Errorf("read distributor register %#x: %w", offset, err)
			}
			state = append(state, val)
		}
	}

	return state, nil
}

// setDistRegs writes an ordered word sequence produced by getDistRegs back
// into the distributor register file.
func setDistRegs(dev Device, state []uint32) error {
	numIRQs, err := numInterrupts(dev)
	if err != nil {
		return err
	}

	debug.Writef("gic dist codec write", "numIRQs: %d, words: %d", numIRQs, len(state))

	idx := 0
	for _, reg := range vgicDistRegs {
		start, end := reg.span(numIRQs)
		for offset := start; offset < end; offset += regWordSize {
			if idx >= len(state) {
				return fmt.Errorf("distributor state too short: %d words", len(state))
			}
			if err := dev.SetAttr32(GrpDistRegs, uint64(offset), state[idx]); err != nil {
				return fmt.Errorf("write distributor register %#x: %w", offset, err)
			}
			idx++
		}
	}

	return nil
}

// readCtlr reads GICD_CTLR. Kept separate from the bulk codec because the
// control register's position in the restore sequence is a correctness
// contract, not codec order.
func readCtlr(dev Device) (uint32, error) {
	return dev.GetAttr32(GrpDistRegs, uint64(gicdCtlr))
}

// writeCtlr writes GICD_CTLR.
func writeCtlr(dev Device, value uint32) error {
	return dev.SetAttr32(GrpDistRegs, uint64(gicdCtlr), value)
}
