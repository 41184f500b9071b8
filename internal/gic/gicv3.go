package gic

import (
	"fmt"

	"github.com/MrXinWang/cloud-hypervisor/internal/debug"
	"github.com/MrXinWang/cloud-hypervisor/internal/migration"
)

// GICv3SnapshotID identifies the plain GICv3 variant to the migration
// framework.
const GICv3SnapshotID = "gic-v3"

// GICv3 is the plain (non-ITS) controller variant. It owns one device
// handle for the distributor+redistributor complex.
type GICv3 struct {
	device Device

	// gicrTypers holds the GICR_TYPER value of each vCPU's redistributor,
	// supplied once affinity is known.
	gicrTypers []uint64
	typersSet  bool

	// properties is [distBase, distSize, redistBase, redistSize], derived
	// from the vCPU count at construction.
	properties [4]uint64

	vcpuCount uint64

	attrsInit bool
	finalized bool
}

// NewGICv3 constructs the variant around a freshly created device handle.
func NewGICv3(device Device, vcpuCount uint64) (*GICv3, error) {
	if device == nil {
		return nil, ErrMissingDevice
	}
	if vcpuCount == 0 {
		return nil, ErrNoVCPUs
	}

	return &GICv3{
		device:     device,
		gicrTypers: make([]uint64, vcpuCount),
		properties: [4]uint64{
			DistributorBase(),
			DistributorSize(),
			RedistributorsBase(vcpuCount),
			RedistributorsSize(vcpuCount),
		},
		vcpuCount: vcpuCount,
	}, nil
}

func (g *GICv3) Device() Device            { return g.device }
func (g *GICv3) ITSDevice() Device         { return nil }
func (g *GICv3) FDTCompatibility() string  { return "arm,gic-v3" }
func (g *GICv3) FDTMaintInterrupt() uint32 { return MaintenanceIRQ }
func (g *GICv3) DeviceProperties() []uint64 {
	return g.properties[:]
}
func (g *GICv3) VCPUCount() uint64        { return g.vcpuCount }
func (g *GICv3) MSICompatible() bool      { return false }
func (g *GICv3) MSICompatibility() string { return "" }
func (g *GICv3) MSIProperties() []uint64  { return nil }

// SetGICRTypers supplies the per-vCPU redistributor type values. One-shot.
func (g *GICv3) SetGICRTypers(typers []uint64) error {
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

// InitDeviceAttributes sets the address attributes the kernel needs before
// the device can be finalized.
func (g *GICv3) InitDeviceAttributes() error {
	if g.attrsInit {
		return ErrAlreadyInitialized
	}

	debug.Writef("gic v3 init attributes", "dist: %#x, redist: %#x",
		DistributorBase(), RedistributorsBase(g.vcpuCount))

	if err := g.device.SetAttr64(GrpAddr, AddrTypeDist, DistributorBase()); err != nil {
		return fmt.Errorf("gic: set distributor address: %w", err)
	}
	if err := g.device.SetAttr64(GrpAddr, AddrTypeRedist, RedistributorsBase(g.vcpuCount)); err != nil {
		return fmt.Errorf("gic: set redistributor address: %w", err)
	}

	g.attrsInit = true

	return nil
}

// FinalizeDevice issues the init-complete control attribute. Must follow
// InitDeviceAttributes and precede the first guest entry.
func (g *GICv3) FinalizeDevice() error {
	if !g.attrsInit {
		return ErrNotInitialized
	}
	if g.finalized {
		return ErrAlreadyFinalized
	}

	if err := g.device.Control(GrpCtrl, CtrlInit); err != nil {
		return fmt.Errorf("gic: finalize device: %w", err)
	}

	g.finalized = true

	return nil
}

// state captures the controller register state. The caller must hold the
// VM paused for the whole transaction; on error no partial state escapes.
func (g *GICv3) state(gicrTypers []uint64) (*GICv3State, error) {
	// Flush redistributor pending tables to guest memory so they are
	// visible in the captured RAM image.
	if err := savePendingTables(g.device); err != nil {
		return nil, saveError(ClassPendingTables, err)
	}

	debug.Writef("gic v3 save", "pending tables flushed")

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

	return &GICv3State{
		Dist:     dist,
		Rdist:    rdist,
		ICC:      icc,
		GICDCtlr: gicdCtlr,
	}, nil
}

// setState reinstates a captured register state. GICD_CTLR is written
// first: it enables the affinity routing the redistributor and CPU
// interface writes depend on.
func (g *GICv3) setState(gicrTypers []uint64, state *GICv3State) error {
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

	return nil
}

// ID implements migration.Snapshottable.
func (g *GICv3) ID() string { return GICv3SnapshotID }

// Snapshot implements migration.Snapshottable.
func (g *GICv3) Snapshot() (*migration.Snapshot, error) {
	if !g.typersSet {
		return nil, ErrTypersNotSet
	}

	state, err := g.state(g.gicrTypers)
	if err != nil {
		return nil, fmt.Errorf("could not snapshot GICv3: %w", err)
	}

	data, err := encodeGICv3State(state)
	if err != nil {
		return nil, fmt.Errorf("could not snapshot GICv3: %w", err)
	}

	snapshot := migration.New(g.ID())
	snapshot.AddDataSection(migration.SnapshotDataSection{
		ID:       fmt.Sprintf("%s-section", g.ID()),
		Snapshot: data,
	})

	return snapshot, nil
}

// Restore implements migration.Snapshottable.
func (g *GICv3) Restore(snapshot *migration.Snapshot) error {
	if !g.typersSet {
		return ErrTypersNotSet
	}

	data, ok := snapshot.DataSection(fmt.Sprintf("%s-section", g.ID()))
	if !ok {
		return fmt.Errorf("could not find GICv3 snapshot section: %w", migration.ErrSectionNotFound)
	}

	state, err := decodeGICv3State(data)
	if err != nil {
		return fmt.Errorf("could not deserialize GICv3 (%v): %w", err, migration.ErrSnapshotDecode)
	}

	if err := g.setState(g.gicrTypers, state); err != nil {
		return fmt.Errorf("could not restore GICv3 state: %w", err)
	}

	return nil
}

// Pause implements migration.Pausable. The engine's pause obligations are
// the caller's; the controller itself has nothing to quiesce.
func (g *GICv3) Pause() error  { return nil }
func (g *GICv3) Resume() error { return nil }

// Send implements migration.Transportable as a no-op; the snapshot bytes
// travel inside the outer snapshot container.
func (g *GICv3) Send(_ *migration.Snapshot, _ string) error { return nil }

var _ GICDevice = (*GICv3)(nil)
