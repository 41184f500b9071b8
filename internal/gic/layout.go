package gic

// Fixed guest memory layout of the interrupt controller. MMIO grows
// downward from mappedIOStart: distributor first, then one 128 KiB
// redistributor frame per vCPU, then the ITS doorbell frame. Every address
// below is a pure function of the vCPU count; nothing is stored.
const (
	sz64K uint64 = 0x0001_0000

	// mappedIOStart is the top of the controller's MMIO window (1 GiB).
	mappedIOStart uint64 = 0x4000_0000

	distSize          = sz64K
	redistSizePerVCPU = 2 * sz64K
	itsSize           = 2 * sz64K
)

// MaintenanceIRQ is the PPI number advertised to firmware for the GICv3
// maintenance interrupt.
const MaintenanceIRQ uint32 = 9

// DistributorBase returns the guest physical address of the distributor.
func DistributorBase() uint64 {
	return mappedIOStart - distSize
}

// DistributorSize returns the size of the distributor frame.
func DistributorSize() uint64 {
	return distSize
}

// RedistributorsBase returns the base of the redistributor region, directly
// below the distributor.
func RedistributorsBase(vcpuCount uint64) uint64 {
	return DistributorBase() - RedistributorsSize(vcpuCount)
}

// RedistributorsSize returns the size of the redistributor region: one RD
// frame and one SGI frame (64 KiB each) per vCPU.
func RedistributorsSize(vcpuCount uint64) uint64 {
	return vcpuCount * redistSizePerVCPU
}

// MSIBase returns the base of the ITS doorbell frame, directly below the
// redistributor region.
func MSIBase(vcpuCount uint64) uint64 {
	return RedistributorsBase(vcpuCount) - MSISize()
}

// MSISize returns the size of the ITS doorbell frame.
func MSISize() uint64 {
	return itsSize
}
