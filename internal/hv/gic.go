// Package hv holds the hypervisor-agnostic types shared between the KVM
// backend and the firmware-description collaborators (FDT/ACPI emission,
// device manager).
package hv

type Arm64GICVersion int

const (
	Arm64GICVersionUnknown Arm64GICVersion = iota
	Arm64GICVersion3
	Arm64GICVersion3ITS
)

// Arm64Interrupt describes one interrupt specifier the way firmware tables
// expect it (type, number, flags).
type Arm64Interrupt struct {
	Type  uint32
	Num   uint32
	Flags uint32
}

// Arm64GICInfo is the memory-layout description of the interrupt controller
// consumed by the FDT and ACPI builders. All fields derive from the vCPU
// count and the fixed layout; nothing here is stored state.
type Arm64GICInfo struct {
	Version Arm64GICVersion

	DistributorBase   uint64
	DistributorSize   uint64
	RedistributorBase uint64
	RedistributorSize uint64

	// MSI doorbell frame, only populated for the ITS-capable controller.
	MSIBase uint64
	MSISize uint64

	Compatibility    string
	MSICompatibility string

	MaintenanceInterrupt Arm64Interrupt
}
