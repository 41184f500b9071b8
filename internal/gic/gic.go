// Package gic emulates the state-capture side of a virtual GICv3-family
// interrupt controller: register codecs for the distributor, redistributor,
// CPU interface and ITS blocks, the two device variants (GICv3 and
// GICv3+ITS), and the capture/restore engine the migration framework drives.
//
// Nothing in this package runs concurrently with guest execution. Capture
// and restore are whole transactions; the caller must hold the VM paused
// (all vCPUs stopped) for their entire duration.
package gic

import (
	"errors"
	"fmt"

	"github.com/MrXinWang/cloud-hypervisor/internal/migration"
)

// Device attribute groups of the in-kernel VGIC device, fixed by the KVM
// ABI (arch/arm64/include/uapi/asm/kvm.h).
const (
	GrpAddr       uint32 = 0
	GrpDistRegs   uint32 = 1
	GrpCPURegs    uint32 = 2
	GrpNrIRQs     uint32 = 3
	GrpCtrl       uint32 = 4
	GrpRedistRegs uint32 = 5
	GrpCPUSysRegs uint32 = 6
	GrpLevelInfo  uint32 = 7
	GrpITSRegs    uint32 = 8
)

// Control-group attributes. These carry no register payload; they trigger
// table materialization in guest memory.
const (
	CtrlInit              uint64 = 0
	CtrlITSSaveTables     uint64 = 1
	CtrlITSRestoreTables  uint64 = 2
	CtrlSavePendingTables uint64 = 3
)

// Address-group attributes for the GICv3 family.
const (
	AddrTypeDist   uint64 = 2
	AddrTypeRedist uint64 = 3
	AddrTypeITS    uint64 = 4
)

// Device is the privileged attribute-access surface of one in-kernel GIC
// device object. The KVM backend supplies the real implementation; tests
// supply recording fakes. All operations are synchronous and may fail if
// the virtualization layer rejects the group/attribute combination.
type Device interface {
	GetAttr32(group uint32, attr uint64) (uint32, error)
	SetAttr32(group uint32, attr uint64, value uint32) error
	GetAttr64(group uint32, attr uint64) (uint64, error)
	SetAttr64(group uint32, attr uint64, value uint64) error

	// Control issues an attribute with no payload, such as the pending
	// table flush or the ITS table save/restore operations.
	Control(group uint32, attr uint64) error
}

// GICDevice is the uniform view of the two controller variants. The rest of
// the VMM programs against this interface; only construction chooses
// between GICv3 and GICv3+ITS.
type GICDevice interface {
	migration.Migratable

	// Device returns the handle of the distributor+redistributor complex.
	Device() Device

	// ITSDevice returns the ITS handle, or nil for the plain GICv3.
	ITSDevice() Device

	// FDTCompatibility returns the firmware compatibility string.
	FDTCompatibility() string

	// FDTMaintInterrupt returns the maintenance interrupt number.
	FDTMaintInterrupt() uint32

	// DeviceProperties returns [distBase, distSize, redistBase, redistSize].
	DeviceProperties() []uint64

	// VCPUCount returns the number of vCPUs the controller serves.
	VCPUCount() uint64

	MSICompatible() bool
	MSICompatibility() string

	// MSIProperties returns [msiBase, msiSize], or nil when not MSI capable.
	MSIProperties() []uint64

	// SetGICRTypers supplies the per-vCPU GICR_TYPER values once affinity
	// is known. One-shot; required before Snapshot or Restore.
	SetGICRTypers(typers []uint64) error

	// InitDeviceAttributes and FinalizeDevice form the two-phase setup
	// protocol. Each must be called exactly once, in this order, before
	// the VM starts running.
	InitDeviceAttributes() error
	FinalizeDevice() error
}

// Construction and setup-protocol errors.
var (
	ErrMissingDevice      = errors.New("gic: required device handle is nil")
	ErrNoVCPUs            = errors.New("gic: vcpu count must be positive")
	ErrAlreadyInitialized = errors.New("gic: device attributes already initialized")
	ErrNotInitialized     = errors.New("gic: device attributes not initialized")
	ErrAlreadyFinalized   = errors.New("gic: device already finalized")
	ErrTypersAlreadySet   = errors.New("gic: GICR_TYPER values already set")
	ErrTypersNotSet       = errors.New("gic: GICR_TYPER values not set")
)

// RegisterClass names one block of controller state for error reporting.
type RegisterClass string

const (
	ClassPendingTables   RegisterClass = "redistributor pending tables"
	ClassDistributorCtrl RegisterClass = "distributor control register"
	ClassDistributor     RegisterClass = "distributor registers"
	ClassRedistributor   RegisterClass = "redistributor registers"
	ClassCPUInterface    RegisterClass = "CPU interface registers"
	ClassITSTables       RegisterClass = "ITS tables"
	ClassITSCtlr         RegisterClass = "ITS CTLR register"
	ClassITSIidr         RegisterClass = "ITS IIDR register"
	ClassITSCbaser       RegisterClass = "ITS CBASER register"
	ClassITSCwriter      RegisterClass = "ITS CWRITER register"
	ClassITSCreadr       RegisterClass = "ITS CREADR register"
	ClassITSBaser        RegisterClass = "ITS BASER registers"
)

// StateError reports which register class failed during a capture or
// restore transaction, and in which direction. The migration framework
// relies on this granularity to name the unrecoverable piece of state.
type StateError struct {
	Restore bool
	Class   RegisterClass
	Err     error
}

func (e *StateError) Error() string {
	op := "save"
	if e.Restore {
		op = "restore"
	}
	return fmt.Sprintf("gic: %s %s: %v", op, e.Class, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

func saveError(class RegisterClass, err error) error {
	return &StateError{Class: class, Err: err}
}

func restoreError(class RegisterClass, err error) error {
	return &StateError{Restore: true, Class: class, Err: err}
}
