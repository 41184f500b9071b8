//go:build linux

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd uintptr, request uint64, arg uintptr) (uintptr, error) {
	v1, _, err := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(request), arg)
	if err != 0 {
		return 0, err
	}
	return v1, nil
}

func ioctlWithRetry(fd uintptr, request uint64, arg uintptr) (uintptr, error) {
	for {
		v1, err := ioctl(fd, request, arg)
		if err == unix.EINTR {
			continue
		}
		return v1, err
	}
}

func createDevice(vmFd int, args *kvmCreateDeviceArgs) error {
	_, err := ioctlWithRetry(uintptr(vmFd), uint64(kvmCreateDevice), uintptr(unsafe.Pointer(args)))
	return err
}

func setDeviceAttr(fd int, attr *kvmDeviceAttr) error {
	_, err := ioctlWithRetry(uintptr(fd), uint64(kvmSetDeviceAttr), uintptr(unsafe.Pointer(attr)))
	return err
}

func getDeviceAttr(fd int, attr *kvmDeviceAttr) error {
	_, err := ioctlWithRetry(uintptr(fd), uint64(kvmGetDeviceAttr), uintptr(unsafe.Pointer(attr)))
	return err
}

func hasDeviceAttr(fd int, attr *kvmDeviceAttr) error {
	_, err := ioctlWithRetry(uintptr(fd), uint64(kvmHasDeviceAttr), uintptr(unsafe.Pointer(attr)))
	return err
}
