//go:build linux

package kvm

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestHasAttrRejectsNonDeviceFd(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	dev := &Device{fd: fds[0]}
	dev.refs.Store(1)

	if err := dev.HasAttr(0, 0); err == nil {
		t.Error("HasAttr succeeded on a fd that is not a KVM device")
	}
}

func TestDeviceRefCounting(t *testing.T) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[1])

	dev := &Device{fd: fds[0]}
	dev.refs.Store(1)

	if got := dev.Retain(); got != dev {
		t.Fatal("Retain returned a different handle")
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if _, err := unix.FcntlInt(uintptr(dev.Fd()), unix.F_GETFD, 0); err != nil {
		t.Fatalf("fd closed while references remain: %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("final Close: %v", err)
	}
	if _, err := unix.FcntlInt(uintptr(dev.Fd()), unix.F_GETFD, 0); err != unix.EBADF {
		t.Errorf("fd still open after final Close: err=%v", err)
	}
}
