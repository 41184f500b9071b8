//go:build linux && arm64

package kvm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrXinWang/cloud-hypervisor/internal/debug"
	"github.com/MrXinWang/cloud-hypervisor/internal/gic"
	hvpkg "github.com/MrXinWang/cloud-hypervisor/internal/hv"
	"golang.org/x/sys/unix"
)

// ErrVGICUnsupported reports that the host kernel cannot create a GICv3 (or
// ITS) device for this VM.
var ErrVGICUnsupported = errors.New("kvm: VGIC device unsupported")

func createVGICDevice(vmFd int, devType uint32) (*Device, error) {
	dev, err := CreateDevice(vmFd, devType)
	if err != nil {
		debug.Writef("kvm vgic create device failed", "type: %d, err: %v", devType, err)
		if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EOPNOTSUPP) {
			slog.Warn("in-kernel VGIC unavailable", "type", devType, "err", err)
			return nil, ErrVGICUnsupported
		}
		return nil, err
	}

	// Probe the distributor address attribute before committing; kernels
	// that created the device but cannot place a v3 distributor reject it
	// here rather than at finalize time.
	if err := dev.HasAttr(gic.GrpAddr, gic.AddrTypeDist); err != nil {
		slog.Warn("VGIC device lacks distributor address support", "type", devType, "err", err)
		dev.Close()
		return nil, ErrVGICUnsupported
	}

	if err := dev.SetAttr32(kvmDevArmVgicGrpNrIrqs, 0, arm64VGICNumIRQs); err != nil {
		dev.Close()
		return nil, fmt.Errorf("kvm: set VGIC IRQ count: %w", err)
	}

	return dev, nil
}

// NewGICv3 creates the in-kernel GICv3 device and runs the full two-phase
// setup protocol. The kernel requires every vCPU to exist before this is
// called.
func NewGICv3(vmFd int, vcpuCount uint64) (*gic.GICv3, error) {
	dev, err := createVGICDevice(vmFd, kvmDevTypeArmVgicV3)
	if err != nil {
		return nil, err
	}

	g, err := gic.NewGICv3(dev, vcpuCount)
	if err != nil {
		dev.Close()
		return nil, err
	}

	if err := g.InitDeviceAttributes(); err != nil {
		dev.Close()
		return nil, err
	}
	if err := g.FinalizeDevice(); err != nil {
		dev.Close()
		return nil, err
	}

	debug.Writef("kvm vgic v3 ready", "vcpus: %d", vcpuCount)

	return g, nil
}

// NewGICv3ITS creates the in-kernel GICv3 and ITS devices and runs the full
// two-phase setup protocol on the pair.
func NewGICv3ITS(vmFd int, vcpuCount uint64) (*gic.GICv3ITS, error) {
	dev, err := createVGICDevice(vmFd, kvmDevTypeArmVgicV3)
	if err != nil {
		return nil, err
	}

	itsDev, err := CreateDevice(vmFd, kvmDevTypeArmVgicIts)
	if err != nil {
		dev.Close()
		if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EOPNOTSUPP) {
			return nil, ErrVGICUnsupported
		}
		return nil, err
	}

	g, err := gic.NewGICv3ITS(dev, itsDev, vcpuCount)
	if err != nil {
		itsDev.Close()
		dev.Close()
		return nil, err
	}

	if err := g.InitDeviceAttributes(); err != nil {
		itsDev.Close()
		dev.Close()
		return nil, err
	}
	if err := g.FinalizeDevice(); err != nil {
		itsDev.Close()
		dev.Close()
		return nil, err
	}

	debug.Writef("kvm vgic v3-its ready", "vcpus: %d", vcpuCount)

	return g, nil
}

// CreateGIC builds the controller variant the VM configuration asks for.
func CreateGIC(vmFd int, vcpuCount uint64, msi bool) (gic.GICDevice, error) {
	if msi {
		return NewGICv3ITS(vmFd, vcpuCount)
	}
	return NewGICv3(vmFd, vcpuCount)
}

// Arm64GICInfo derives the firmware-facing controller description from a
// constructed variant.
func Arm64GICInfo(g gic.GICDevice) hvpkg.Arm64GICInfo {
	props := g.DeviceProperties()

	info := hvpkg.Arm64GICInfo{
		Version:           hvpkg.Arm64GICVersion3,
		DistributorBase:   props[0],
		DistributorSize:   props[1],
		RedistributorBase: props[2],
		RedistributorSize: props[3],
		Compatibility:     g.FDTCompatibility(),
		MaintenanceInterrupt: hvpkg.Arm64Interrupt{
			Type:  1,
			Num:   g.FDTMaintInterrupt(),
			Flags: 0xF04,
		},
	}

	if g.MSICompatible() {
		msi := g.MSIProperties()
		info.Version = hvpkg.Arm64GICVersion3ITS
		info.MSIBase = msi[0]
		info.MSISize = msi[1]
		info.MSICompatibility = g.MSICompatibility()
	}

	return info
}
