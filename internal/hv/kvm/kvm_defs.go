//go:build linux

package kvm

const (
	kvmCreateDevice  = 0xc00caee0
	kvmSetDeviceAttr = 0x4018aee1
	kvmGetDeviceAttr = 0x4018aee2
	kvmHasDeviceAttr = 0x4018aee3
)

const (
	kvmDevTypeArmVgicV3  = 7
	kvmDevTypeArmVgicIts = 8
)

const (
	kvmDevArmVgicGrpNrIrqs = 3
)

// arm64VGICNumIRQs is the interrupt count advertised to the kernel before
// the device is finalized.
const arm64VGICNumIRQs = 256

type kvmCreateDeviceArgs struct {
	Type  uint32
	Fd    uint32
	Flags uint32
}

type kvmDeviceAttr struct {
	Flags uint32
	Group uint32
	Attr  uint64
	Addr  uint64
}
