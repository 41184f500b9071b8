package gic

import (
	"fmt"

	"github.com/MrXinWang/cloud-hypervisor/internal/debug"
	"github.com/MrXinWang/cloud-hypervisor/internal/migration"
)

// GICv3ITSSnapshotID identifies the ITS-capable variant to the migration
// framework.
const GICv3ITSSnapshotID = "gic-v3-its"

// GICv3ITS is the MSI-capable controller variant. It owns two device
// handles: the GICv3 complex and the ITS.
type GICv3ITS struct {
	device    Device
	itsDevice Device

	gicrTypers []uint64
	typersSet  bool

	// gicProperties is [distBase, distSize, redistBase, redistSize];
	// msiProperties is [msiBase, msiSize].
	gicProperties [4]uint64
	msiProperties [2]uint64

	vcpuCount uint64

	attrsInit bool
	finalized bool
}

// NewGICv3ITS constructs the variant around freshly created GIC and ITS
// device handles.
func NewGICv3ITS(device, itsDevice Device, vcpuCount uint64) (*GICv3ITS, error) {
	if device == nil || itsDevice == nil {
		return nil, ErrMissingDevice
	}
	if vcpuCount == 0 {
		return nil, ErrNoVCPUs
	}

	return &GICv3ITS{
		device:     device,
		itsDevice:  itsDevice,
		gicrTypers: make([]uint64, vcpuCount),
		gicProperties: [4]uint64{
			DistributorBase(),
			DistributorSize(),
			RedistributorsBase(vcpuCount),
			RedistributorsSize(vcpuCount),
		},
		msiProperties: [2]uint64{
			MSIBase(vcpuCount),
			MSISize(),
		},
		vcpuCount: vcpuCount,
	}, nil
}

func (g *GICv3ITS) Device() Device            { return g.device }
func (g *GICv3ITS) ITSDevice() Device         { return g.itsDevice }
func (g *GICv3ITS) FDTCompatibility() string  { return "arm,gic-v3" }
func (g *GICv3ITS) FDTMaintInterrupt() uint32 { return MaintenanceIRQ }
func (g *GICv3ITS) DeviceProperties() []uint64 {
	return g.gicProperties[:]
}
func (g *GICv3ITS) VCPUCount() uint64        { return g.vcpuCount }
func (g *GICv3ITS) MSICompatible() bool      { return true }
func (g *GICv3ITS) MSICompatibility() string { return "arm,gic-v3-its" }
func (g *GICv3ITS) MSIProperties() []uint64 {
	return g.msiProperties[:]
}

// SetGICRTypers supplies the per-vCPU redistributor type values. One-shot.
func (g *GICv3ITS) SetGICRTypers(typers []uint64) error {
	if g.typersSet {
		return ErrTypersAlreadySet
	}
	if uint64(len(typers)) != g.vcpuCount {
		return fmt.Errorf("gic: got %d GICR_TYPER values for %d vcpus", len(typers), g.vcpuCount)
	}

	copy(g.gicrTypers, typers)
	g.typersSet = true

	return nil
}

// InitDeviceAttributes sets the GIC address attributes and the ITS
// doorbell address.
func (g *GICv3ITS) InitDeviceAttributes() error {
	if g.attrsInit {
		return ErrAlreadyInitialized
	}

	debug.Writef("gic v3-its init attributes", "dist: %#x, redist: %#x, msi: %#x",
		DistributorBase(), RedistributorsBase(g.vcpuCount), MSIBase(g.vcpuCount))

	if err := g.device.SetAttr64(GrpAddr, AddrTypeDist, DistributorBase()); err != nil {
		return fmt.Errorf("gic: set distributor address: %w", err)
	}
	if err := g.device.SetAttr64(GrpAddr, AddrTypeRedist, RedistributorsBase(g.vcpuCount)); err != nil {
		return fmt.Errorf("gic: set redistributor address: %w", err)
	}
	if err := g.itsDevice.SetAttr64(GrpAddr, AddrTypeITS, MSIBase(g.vcpuCount)); err != nil {
		return fmt.Errorf("gic: set ITS doorbell address: %w", err)
	}

	g.attrsInit = true

	return nil
}

// FinalizeDevice issues the init-complete control attribute, ITS device
// first, then the GIC complex.
func (g *GICv3ITS) FinalizeDevice() error {
	if !g.attrsInit {
		return ErrNotInitialized
	}
	if g.finalized {
		return ErrAlreadyFinalized
	}

	if err := g.itsDevice.Control(GrpCtrl, CtrlInit); err != nil {
		return fmt.Errorf("gic: finalize ITS device: %w", err)
	}
	if err := g.device.Control(GrpCtrl, CtrlInit); err != nil {
		return fmt.Errorf("gic: finalize device: %w", err)
	}

	g.finalized = true

	return nil
}

// state captures the GIC block followed by the ITS block. The table-save
// control op materializes the in-memory ITS state and must precede every
// ITS register read.
func (g *GICv3ITS) state(gicrTypers []uint64) (*GICv3ITSState, error) {
	if err := savePendingTables(g.device); err != nil {
		return nil, saveError(ClassPendingTables, err)
	}

	gicdCtlr, err := readCtlr(g.device)
	if err != nil {
		return nil, saveError(ClassDistributorCtrl, err)
	}

	dist, err := getDistRegs(g.device)
	if err != nil {
		return nil, saveError(ClassDistributor, err)
	}

	rdist, err := getRedistRegs(g.device, gicrTypers)
	if err != nil {
		return nil, saveError(ClassRedistributor, err)
	}

	icc, err := getICCRegs(g.device, gicrTypers)
	if err != nil {
		return nil, saveError(ClassCPUInterface, err)
	}

	if err := saveITSTables(g.itsDevice); err != nil {
		return nil, saveError(ClassITSTables, err)
	}

	debug.Writef("gic v3-its save", "ITS tables flushed")

	state := &GICv3ITSState{
		GICv3State: GICv3State{
			Dist:     dist,
			Rdist:    rdist,
			ICC:      icc,
			GICDCtlr: gicdCtlr,
		},
	}

	for i := 0; i < numITSBasers; i++ {
		baser, err := g.itsDevice.GetAttr64(GrpITSRegs, gitsBaser+uint64(i)*8)
		if err != nil {
			return nil, saveError(ClassITSBaser, err)
		}
		state.ITSBaser[i] = baser
	}

	if state.ITSCtlr, err = g.itsDevice.GetAttr32(GrpITSRegs, gitsCtlr); err != nil {
		return nil, saveError(ClassITSCtlr, err)
	}
	if state.ITSCbaser, err = g.itsDevice.GetAttr64(GrpITSRegs, gitsCbaser); err != nil {
		return nil, saveError(ClassITSCbaser, err)
	}
	if state.ITSCreadr, err = g.itsDevice.GetAttr64(GrpITSRegs, gitsCreadr); err != nil {
		return nil, saveError(ClassITSCreadr, err)
	}
	if state.ITSCwriter, err = g.itsDevice.GetAttr64(GrpITSRegs, gitsCwriter); err != nil {
		return nil, saveError(ClassITSCwriter, err)
	}
	if state.ITSIidr, err = g.itsDevice.GetAttr32(GrpITSRegs, gitsIidr); err != nil {
		return nil, saveError(ClassITSIidr, err)
	}

	return state, nil
}

// setState reinstates the GIC block, then the ITS block. GITS_CTLR is
// written last: enabling the ITS before its base registers and tables are
// in place is architecturally invalid and can fault.
func (g *GICv3ITS) setState(gicrTypers []uint64, state *GICv3ITSState) error {
	if err := writeCtlr(g.device, state.GICDCtlr); err != nil {
		return restoreError(ClassDistributorCtrl, err)
	}

	if err := setDistRegs(g.device, state.Dist); err != nil {
		return restoreError(ClassDistributor, err)
	}

	if err := setRedistRegs(g.device, gicrTypers, state.Rdist); err != nil {
		return restoreError(ClassRedistributor, err)
	}

	if err := setICCRegs(g.device, gicrTypers, state.ICC); err != nil {
		return restoreError(ClassCPUInterface, err)
	}

	if err := g.itsDevice.SetAttr32(GrpITSRegs, gitsIidr, state.ITSIidr); err != nil {
		return restoreError(ClassITSIidr, err)
	}
	if err := g.itsDevice.SetAttr64(GrpITSRegs, gitsCbaser, state.ITSCbaser); err != nil {
		return restoreError(ClassITSCbaser, err)
	}
	if err := g.itsDevice.SetAttr64(GrpITSRegs, gitsCreadr, state.ITSCreadr); err != nil {
		return restoreError(ClassITSCreadr, err)
	}
	if err := g.itsDevice.SetAttr64(GrpITSRegs, gitsCwriter, state.ITSCwriter); err != nil {
		return restoreError(ClassITSCwriter, err)
	}

	for i := 0; i < numITSBasers; i++ {
		if err := g.itsDevice.SetAttr64(GrpITSRegs, gitsBaser+uint64(i)*8, state.ITSBaser[i]); err != nil {
			return restoreError(ClassITSBaser, err)
		}
	}

	if err := restoreITSTables(g.itsDevice); err != nil {
		return restoreError(ClassITSTables, err)
	}

	if err := g.itsDevice.SetAttr32(GrpITSRegs, gitsCtlr, state.ITSCtlr); err != nil {
		return restoreError(ClassITSCtlr, err)
	}

	debug.Writef("gic v3-its restore", "ITS block restored")

	return nil
}

// ID implements migration.Snapshottable.
func (g *GICv3ITS) ID() string { return GICv3ITSSnapshotID }

// Snapshot implements migration.Snapshottable.
func (g *GICv3ITS) Snapshot() (*migration.Snapshot, error) {
	if !g.typersSet {
		return nil, ErrTypersNotSet
	}

	state, err := g.state(g.gicrTypers)
	if err != nil {
		return nil, fmt.Errorf("could not snapshot GICv3ITS: %w", err)
	}

	data, err := encodeGICv3ITSState(state)
	if err != nil {
		return nil, fmt.Errorf("could not snapshot GICv3ITS: %w", err)
	}

	snapshot := migration.New(g.ID())
	snapshot.AddDataSection(migration.SnapshotDataSection{
		ID:       fmt.Sprintf("%s-section", g.ID()),
		Snapshot: data,
	})

	return snapshot, nil
}

// Restore implements migration.Snapshottable.
func (g *GICv3ITS) Restore(snapshot *migration.Snapshot) error {
	if !g.typersSet {
		return ErrTypersNotSet
	}

	data, ok := snapshot.DataSection(fmt.Sprintf("%s-section", g.ID()))
	if !ok {
		return fmt.Errorf("could not find GICv3ITS snapshot section: %w", migration.ErrSectionNotFound)
	}

	state, err := decodeGICv3ITSState(data)
	if err != nil {
		return fmt.Errorf("could not deserialize GICv3ITS (%v): %w", err, migration.ErrSnapshotDecode)
	}

	if err := g.setState(g.gicrTypers, state); err != nil {
		return fmt.Errorf("could not restore GICv3ITS state: %w", err)
	}

	return nil
}

func (g *GICv3ITS) Pause() error  { return nil }
func (g *GICv3ITS) Resume() error { return nil }

func (g *GICv3ITS) Send(_ *migration.Snapshot, _ string) error { return nil }

var _ GICDevice = (*GICv3ITS)(nil)
