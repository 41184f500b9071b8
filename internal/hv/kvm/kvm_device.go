//go:build linux

package kvm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/MrXinWang/cloud-hypervisor/internal/debug"
	"golang.org/x/sys/unix"
)

// Device is a reference-counted handle to one in-kernel KVM device object.
// The handle is shared between the GIC variant that created it and the
// device manager's IRQ-injection path; the last Close releases the fd. The
// handle's identity never changes after creation.
type Device struct {
	fd   int
	refs atomic.Int32
}

// CreateDevice issues KVM_CREATE_DEVICE on the VM fd and wraps the
// resulting device fd with a reference count of one.
func CreateDevice(vmFd int, devType uint32) (*Device, error) {
	args := kvmCreateDeviceArgs{Type: devType}

	if err := createDevice(vmFd, &args); err != nil {
		return nil, fmt.Errorf("kvm: create device type %d: %w", devType, err)
	}

	debug.Writef("kvm create device", "type: %d, fd: %d", devType, args.Fd)

	dev := &Device{fd: int(args.Fd)}
	dev.refs.Store(1)

	return dev, nil
}

// Retain adds a reference and returns the same handle.
func (d *Device) Retain() *Device {
	d.refs.Add(1)
	return d
}

// Close drops one reference; the underlying fd is closed when the count
// reaches zero.
func (d *Device) Close() error {
	if d.refs.Add(-1) != 0 {
		return nil
	}
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("kvm: close device fd %d: %w", d.fd, err)
	}
	return nil
}

// Fd returns the raw device fd for callers that issue their own ioctls.
func (d *Device) Fd() int { return d.fd }

func (d *Device) GetAttr32(group uint32, attr uint64) (uint32, error) {
	var val uint32
	devAttr := kvmDeviceAttr{
		Group: group,
		Attr:  attr,
		Addr:  uint64(uintptr(unsafe.Pointer(&val))),
	}
	if err := getDeviceAttr(d.fd, &devAttr); err != nil {
		return 0, err
	}
	return val, nil
}

func (d *Device) SetAttr32(group uint32, attr uint64, value uint32) error {
	val := value
	devAttr := kvmDeviceAttr{
		Group: group,
		Attr:  attr,
		Addr:  uint64(uintptr(unsafe.Pointer(&val))),
	}
	return setDeviceAttr(d.fd, &devAttr)
}

func (d *Device) GetAttr64(group uint32, attr uint64) (uint64, error) {
	var val uint64
	devAttr := kvmDeviceAttr{
		Group: group,
		Attr:  attr,
		Addr:  uint64(uintptr(unsafe.Pointer(&val))),
	}
	if err := getDeviceAttr(d.fd, &devAttr); err != nil {
		return 0, err
	}
	return val, nil
}

func (d *Device) SetAttr64(group uint32, attr uint64, value uint64) error {
	val := value
	devAttr := kvmDeviceAttr{
		Group: group,
		Attr:  attr,
		Addr:  uint64(uintptr(unsafe.Pointer(&val))),
	}
	return setDeviceAttr(d.fd, &devAttr)
}

// Control issues an attribute with no payload.
func (d *Device) Control(group uint32, attr uint64) error {
	devAttr := kvmDeviceAttr{
		Group: group,
		Attr:  attr,
	}
	return setDeviceAttr(d.fd, &devAttr)
}

// HasAttr probes whether the kernel supports a group/attribute pair.
func (d *Device) HasAttr(group uint32, attr uint64) error {
	devAttr := kvmDeviceAttr{
		Group: group,
		Attr:  attr,
	}
	return hasDeviceAttr(d.fd, &devAttr)
}
