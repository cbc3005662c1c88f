//go:build !windows

package pe

import "github.com/carved4/go-ldr/pkg/errors"

type nativeInvoker struct{}

// NativeInvoker reports every call as unsupported: mapped images target the
// Windows x64 calling convention.
func NativeInvoker() Invoker {
	return nativeInvoker{}
}

func (nativeInvoker) Invoke(uintptr, ...uintptr) (uintptr, error) {
	return 0, errors.New(errors.ErrUnsupportedPlatform, "pe.Invoke")
}
