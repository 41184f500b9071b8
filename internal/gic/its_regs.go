package gic

// ITS register offsets, used as attribute IDs within GrpITSRegs. These
// numeric values are part of the wire contract with the kernel
// virtualization ABI.
const (
	gitsCtlr    uint64 = 0x0000
	gitsIidr    uint64 = 0x0004
	gitsCbaser  uint64 = 0x0080
	gitsCwriter uint64 = 0x0088
	gitsCreadr  uint64 = 0x0090
	gitsBaser   uint64 = 0x0100
)

// numITSBasers is the number of GITS_BASER table descriptors; entries step
// by 8 bytes from gitsBaser.
const numITSBasers = 8

// savePendingTables flushes the redistributor pending tables into guest
// memory so they can be captured as ordinary bytes. Must run before the
// redistributor registers are read, with the VM paused.
func savePendingTables(dev Device) error {
	return dev.Control(GrpCtrl, CtrlSavePendingTables)
}

// saveITSTables flushes the ITS command-queue and translation tables into
// guest memory. Must run before any ITS register is read.
func saveITSTables(dev Device) error {
	return dev.Control(GrpCtrl, CtrlITSSaveTables)
}

// restoreITSTables reloads the ITS tables from guest memory. Must run after
// the base and queue-pointer registers are written and before GITS_CTLR.
func restoreITSTables(dev Device) error {
	return dev.Control(GrpCtrl, CtrlITSRestoreTables)
}
