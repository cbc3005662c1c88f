//go:build windows

package pe

import "syscall"

type nativeInvoker struct{}

// NativeInvoker calls into mapped code with the platform calling convention.
func NativeInvoker() Invoker {
	return nativeInvoker{}
}

func (nativeInvoker) Invoke(fn uintptr, args ...uintptr) (uintptr, error) {
	r, _, _ := syscall.SyscallN(fn, args...)
	return r, nil
}
