package gic

import "fmt"

// fakeDevice is a recording in-memory transport. Registers live in a map
// keyed by (group, attr); every operation is appended to calls so tests can
// assert exact operation ordering.

type attrKey struct {
	group uint32
	attr  uint64
}

type deviceOp struct {
	kind  string // "get", "set", "ctrl"
	group uint32
	attr  uint64
	value uint64
	seq   int
}

type fakeDevice struct {
	regs  map[attrKey]uint64
	calls []deviceOp

	// clock numbers operations; share it between fakes to assert ordering
	// across devices.
	clock *int

	// failGet / failSet make matching operations fail, for error
	// propagation tests.
	failGet func(group uint32, attr uint64) error
	failSet func(group uint32, attr uint64) error
}

// fakeTyper yields 256 supported interrupts (32 * ((7 & 0x1f) + 1)).
const fakeTyper = 0x7

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		regs: map[attrKey]uint64{
			{GrpDistRegs, uint64(gicdTyper)}: fakeTyper,
		},
		clock: new(int),
	}
}

func (d *fakeDevice) record(op deviceOp) {
	op.seq = *d.clock
	*d.clock++
	d.calls = append(d.calls, op)
}

func (d *fakeDevice) get(group uint32, attr uint64) (uint64, error) {
	d.record(deviceOp{kind: "get", group: group, attr: attr})
	if d.failGet != nil {
		if err := d.failGet(group, attr); err != nil {
			return 0, err
		}
	}
	return d.regs[attrKey{group, attr}], nil
}

func (d *fakeDevice) set(group uint32, attr uint64, value uint64) error {
	d.record(deviceOp{kind: "set", group: group, attr: attr, value: value})
	if d.failSet != nil {
		if err := d.failSet(group, attr); err != nil {
			return err
		}
	}
	d.regs[attrKey{group, attr}] = value
	return nil
}

func (d *fakeDevice) GetAttr32(group uint32, attr uint64) (uint32, error) {
	val, err := d.get(group, attr)
	return uint32(val), err
}

func (d *fakeDevice) SetAttr32(group uint32, attr uint64, value uint32) error {
	return d.set(group, attr, uint64(value))
}

func (d *fakeDevice) GetAttr64(group uint32, attr uint64) (uint64, error) {
	return d.get(group, attr)
}

func (d *fakeDevice) SetAttr64(group uint32, attr uint64, value uint64) error {
	return d.set(group, attr, value)
}

func (d *fakeDevice) Control(group uint32, attr uint64) error {
	d.record(deviceOp{kind: "ctrl", group: group, attr: attr})
	if d.failSet != nil {
		if err := d.failSet(group, attr); err != nil {
			return err
		}
	}
	return nil
}

// indexOf returns the position of the first call matching the predicate,
// or -1.
func (d *fakeDevice) indexOf(match func(deviceOp) bool) int {
	for i, op := range d.calls {
		if match(op) {
			return i
		}
	}
	return -1
}

// seqOf returns the shared-clock sequence number of the first call matching
// the predicate, or -1.
func (d *fakeDevice) seqOf(match func(deviceOp) bool) int {
	if i := d.indexOf(match); i >= 0 {
		return d.calls[i].seq
	}
	return -1
}

func (d *fakeDevice) lastIndexOf(match func(deviceOp) bool) int {
	last := -1
	for i, op := range d.calls {
		if match(op) {
			last = i
		}
	}
	return last
}

// testTypers builds distinct per-vCPU GICR_TYPER values with the affinity
// bits in the top half.
func testTypers(vcpuCount uint64) []uint64 {
	typers := make([]uint64, vcpuCount)
	for i := range typers {
		typers[i] = uint64(i) << 32
	}
	return typers
}

var _ Device = (*fakeDevice)(nil)

func (op deviceOp) String() string {
	return fmt.Sprintf("%s group=%d attr=%#x value=%#x", op.kind, op.group, op.attr, op.value)
}
