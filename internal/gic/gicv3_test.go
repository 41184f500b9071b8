package gic

import (
	"errors"
	"testing"

	"github.com/MrXinWang/cloud-hypervisor/internal/migration"
)

func newTestGICv3(t *testing.T, dev *fakeDevice, vcpus uint64) *GICv3 {
	t.Helper()

	g, err := NewGICv3(dev, vcpus)
	if err != nil {
		t.Fatalf("NewGICv3: %v", err)
	}
	if err := g.SetGICRTypers(testTypers(vcpus)); err != nil {
		t.Fatalf("SetGICRTypers: %v", err)
	}
	return g
}

func TestNewGICv3Validation(t *testing.T) {
	if _, err := NewGICv3(nil, 4); !errors.Is(err, ErrMissingDevice) {
		t.Errorf("nil device: err=%v, want ErrMissingDevice", err)
	}
	if _, err := NewGICv3(newFakeDevice(), 0); !errors.Is(err, ErrNoVCPUs) {
		t.Errorf("zero vcpus: err=%v, want ErrNoVCPUs", err)
	}
}

func TestGICv3Properties(t *testing.T) {
	g, err := NewGICv3(newFakeDevice(), 4)
	if err != nil {
		t.Fatalf("NewGICv3: %v", err)
	}

	props := g.DeviceProperties()
	if len(props) != 4 {
		t.Fatalf("DeviceProperties has %d entries, want 4", len(props))
	}
	if props[0] != DistributorBase() || props[1] != DistributorSize() {
		t.Errorf("distributor properties [%#x %#x], want [%#x %#x]",
			props[0], props[1], DistributorBase(), DistributorSize())
	}
	if props[3] != 524288 {
		t.Errorf("redistributor size %d, want 524288", props[3])
	}
	if props[2] != DistributorBase()-524288 {
		t.Errorf("redistributor base %#x, want %#x", props[2], DistributorBase()-524288)
	}

	if g.MSICompatible() {
		t.Error("plain GICv3 reports MSI compatible")
	}
	if g.FDTCompatibility() != "arm,gic-v3" {
		t.Errorf("compatibility %q, want arm,gic-v3", g.FDTCompatibility())
	}
	if g.FDTMaintInterrupt() != 9 {
		t.Errorf("maintenance interrupt %d, want 9", g.FDTMaintInterrupt())
	}
	if g.ITSDevice() != nil {
		t.Error("plain GICv3 has an ITS device")
	}
}

func TestGICv3SetupProtocol(t *testing.T) {
	dev := newFakeDevice()
	g, err := NewGICv3(dev, 2)
	if err != nil {
		t.Fatalf("NewGICv3: %v", err)
	}

	if err := g.FinalizeDevice(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("finalize before init: err=%v, want ErrNotInitialized", err)
	}
	if err := g.InitDeviceAttributes(); err != nil {
		t.Fatalf("InitDeviceAttributes: %v", err)
	}
	if err := g.InitDeviceAttributes(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second init: err=%v, want ErrAlreadyInitialized", err)
	}
	if err := g.FinalizeDevice(); err != nil {
		t.Fatalf("FinalizeDevice: %v", err)
	}
	if err := g.FinalizeDevice(); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("second finalize: err=%v, want ErrAlreadyFinalized", err)
	}

	// The address attributes land before the init-complete control op.
	distIdx := dev.indexOf(func(op deviceOp) bool {
		return op.kind == "set" && op.group == GrpAddr && op.attr == AddrTypeDist
	})
	redistIdx := dev.indexOf(func(op deviceOp) bool {
		return op.kind == "set" && op.group == GrpAddr && op.attr == AddrTypeRedist
	})
	initIdx := dev.indexOf(func(op deviceOp) bool {
		return op.kind == "ctrl" && op.group == GrpCtrl && op.attr == CtrlInit
	})
	if distIdx < 0 || redistIdx < 0 || initIdx < 0 {
		t.Fatalf("missing setup operations: dist=%d redist=%d init=%d", distIdx, redistIdx, initIdx)
	}
	if initIdx < distIdx || initIdx < redistIdx {
		t.Errorf("init-complete issued before address attributes: %v", dev.calls)
	}
}

func TestGICv3TypersOneShot(t *testing.T) {
	g, err := NewGICv3(newFakeDevice(), 2)
	if err != nil {
		t.Fatalf("NewGICv3: %v", err)
	}

	if _, err := g.Snapshot(); !errors.Is(err, ErrTypersNotSet) {
		t.Errorf("snapshot without typers: err=%v, want ErrTypersNotSet", err)
	}
	if err := g.SetGICRTypers([]uint64{1}); err == nil {
		t.Error("wrong typer count accepted")
	}
	if err := g.SetGICRTypers(testTypers(2)); err != nil {
		t.Fatalf("SetGICRTypers: %v", err)
	}
	if err := g.SetGICRTypers(testTypers(2)); !errors.Is(err, ErrTypersAlreadySet) {
		t.Errorf("second SetGICRTypers: err=%v, want ErrTypersAlreadySet", err)
	}
}

func TestGICv3CaptureOrder(t *testing.T) {
	dev := newFakeDevice()
	g := newTestGICv3(t, dev, 1)

	if _, err := g.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	flushIdx := dev.indexOf(func(op deviceOp) bool {
		return op.kind == "ctrl" && op.attr == CtrlSavePendingTables
	})
	firstRead := dev.indexOf(func(op deviceOp) bool {
		return op.kind == "get"
	})
	if flushIdx < 0 {
		t.Fatal("pending table flush never issued")
	}
	if firstRead >= 0 && firstRead < flushIdx {
		t.Errorf("register read at %d precedes pending table flush at %d", firstRead, flushIdx)
	}
}

// Scenario: a distributor control register of 0x3 (groups 0 and 1 enabled)
// survives capture, serialization and restore into a second controller.
func TestGICv3ControlRegisterRoundTrip(t *testing.T) {
	src := newFakeDevice()
	src.regs[attrKey{GrpDistRegs, uint64(gicdCtlr)}] = 0x3

	g1 := newTestGICv3(t, src, 2)
	snap, err := g1.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	dst := newFakeDevice()
	g2 := newTestGICv3(t, dst, 2)
	if err := g2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	ctlr, err := readCtlr(dst)
	if err != nil {
		t.Fatalf("readCtlr: %v", err)
	}
	if ctlr != 0x3 {
		t.Fatalf("restored GICD_CTLR=%#x, want 0x3", ctlr)
	}
}

func TestGICv3RoundTripIsStable(t *testing.T) {
	src := newFakeDevice()
	src.regs[attrKey{GrpDistRegs, uint64(gicdCtlr)}] = 0x3
	src.regs[attrKey{GrpDistRegs, uint64(gicdIgroupr + 4)}] = 0xffffffff
	src.regs[attrKey{GrpRedistRegs, uint64(gicrWaker)}] = 0x2

	g1 := newTestGICv3(t, src, 1)
	snap1, err := g1.Snapshot()
	if err != nil {
		t.Fatalf("first Snapshot: %v", err)
	}

	dst := newFakeDevice()
	g2 := newTestGICv3(t, dst, 1)
	if err := g2.Restore(snap1); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	snap2, err := g2.Snapshot()
	if err != nil {
		t.Fatalf("second Snapshot: %v", err)
	}

	section := "gic-v3-section"
	data1, _ := snap1.DataSection(section)
	data2, _ := snap2.DataSection(section)
	if len(data1) == 0 || len(data2) == 0 {
		t.Fatal("missing snapshot sections")
	}
	if string(data1) != string(data2) {
		t.Fatal("capture after restore is not byte-identical")
	}
}

func TestGICv3RestoreWritesControlRegisterFirst(t *testing.T) {
	src := newFakeDevice()
	g1 := newTestGICv3(t, src, 1)
	snap, err := g1.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	dst := newFakeDevice()
	g2 := newTestGICv3(t, dst, 1)
	if err := g2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	firstWrite := dst.indexOf(func(op deviceOp) bool { return op.kind == "set" })
	ctlrWrite := dst.indexOf(func(op deviceOp) bool {
		return op.kind == "set" && op.group == GrpDistRegs && op.attr == uint64(gicdCtlr)
	})
	if ctlrWrite < 0 {
		t.Fatal("GICD_CTLR never written")
	}
	if firstWrite != ctlrWrite {
		t.Errorf("first write is %v, want GICD_CTLR", dst.calls[firstWrite])
	}
}

func TestGICv3RestoreErrorNamesDistributor(t *testing.T) {
	src := newFakeDevice()
	g1 := newTestGICv3(t, src, 1)
	snap, err := g1.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	dst := newFakeDevice()
	dst.failSet = func(group uint32, attr uint64) error {
		// Fail the bulk distributor writes but not GICD_CTLR.
		if group == GrpDistRegs && attr != uint64(gicdCtlr) {
			return errors.New("injected")
		}
		return nil
	}
	g2 := newTestGICv3(t, dst, 1)

	err = g2.Restore(snap)
	if err == nil {
		t.Fatal("Restore succeeded with failing distributor writes")
	}

	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("err=%v, want *StateError", err)
	}
	if !stateErr.Restore {
		t.Error("error not tagged as restore")
	}
	if stateErr.Class != ClassDistributor {
		t.Errorf("error class %q, want %q", stateErr.Class, ClassDistributor)
	}
}

func TestGICv3SaveErrorNamesPendingTables(t *testing.T) {
	dev := newFakeDevice()
	dev.failSet = func(group uint32, attr uint64) error {
		if group == GrpCtrl && attr == CtrlSavePendingTables {
			return errors.New("injected")
		}
		return nil
	}
	g := newTestGICv3(t, dev, 1)

	_, err := g.Snapshot()
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("err=%v, want *StateError", err)
	}
	if stateErr.Restore {
		t.Error("error tagged as restore, want save")
	}
	if stateErr.Class != ClassPendingTables {
		t.Errorf("error class %q, want %q", stateErr.Class, ClassPendingTables)
	}
}

// Scenario: restoring from a snapshot that lacks the expected section fails
// with the distinct section-not-found error and performs no register writes.
func TestGICv3RestoreMissingSection(t *testing.T) {
	dst := newFakeDevice()
	g := newTestGICv3(t, dst, 1)

	err := g.Restore(migration.New("unrelated"))
	if !errors.Is(err, migration.ErrSectionNotFound) {
		t.Fatalf("err=%v, want ErrSectionNotFound", err)
	}
	if len(dst.calls) != 0 {
		t.Errorf("restore touched the device: %v", dst.calls)
	}
}

func TestGICv3RestoreMalformedSection(t *testing.T) {
	dst := newFakeDevice()
	g := newTestGICv3(t, dst, 1)

	snap := migration.New(g.ID())
	snap.AddDataSection(migration.SnapshotDataSection{
		ID:       "gic-v3-section",
		Snapshot: []byte{0xde, 0xad},
	})

	err := g.Restore(snap)
	if !errors.Is(err, migration.ErrSnapshotDecode) {
		t.Fatalf("err=%v, want ErrSnapshotDecode", err)
	}
	if len(dst.calls) != 0 {
		t.Errorf("restore touched the device: %v", dst.calls)
	}
}

// A malformed payload with a huge claimed word count must surface as the
// decode error, not take the process down allocating for the claim.
func TestGICv3RestoreOversizedWordCount(t *testing.T) {
	dst := newFakeDevice()
	g := newTestGICv3(t, dst, 1)

	snap := migration.New(g.ID())
	snap.AddDataSection(migration.SnapshotDataSection{
		ID: "gic-v3-section",
		Snapshot: []byte{
			'V', 'G', 'I', 'C', 1, 0, 0, 0,
			0x3, 0, 0, 0,
			0xff, 0xff, 0xff, 0xff,
		},
	})

	err := g.Restore(snap)
	if !errors.Is(err, migration.ErrSnapshotDecode) {
		t.Fatalf("err=%v, want ErrSnapshotDecode", err)
	}
	if len(dst.calls) != 0 {
		t.Errorf("restore touched the device: %v", dst.calls)
	}
}

func TestGICv3SnapshotID(t *testing.T) {
	g, _ := NewGICv3(newFakeDevice(), 1)
	if g.ID() != "gic-v3" {
		t.Errorf("ID=%q, want gic-v3", g.ID())
	}
}
