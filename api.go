// Package ldr is a user-mode loader for 64-bit Windows libraries. It maps
// images into the current process without the OS loader, resolves their
// imports through its own registry and API-Set resolver, and runs their
// entry points.
//
// The functions here drive one process-wide Registry. Like the Registry
// itself they are not safe for concurrent use.
package ldr

import (
	"github.com/carved4/go-ldr/pkg/apiset"
	"github.com/carved4/go-ldr/pkg/errors"
	"github.com/carved4/go-ldr/pkg/loader"
	"github.com/carved4/go-ldr/pkg/obf"
	"github.com/carved4/go-ldr/pkg/pe"
)

type Library = loader.Library

// worker runs entry points and Call targets on one locked OS thread.
var worker = pe.NewWorker(pe.NativeInvoker())

var registry = loader.New(loader.WithInvoker(worker))

var GetHash = obf.GetHash
var IsApiSetReference = apiset.IsApiSetReference

// Configure replaces the process-wide registry, releasing the current one.
// Entry points run on the shared worker thread unless opts set an invoker.
func Configure(opts ...loader.Option) error {
	err := registry.Release()
	registry = loader.New(append([]loader.Option{loader.WithInvoker(worker)}, opts...)...)
	return err
}

// Init prepares the process-wide registry. Repeated calls are no-ops.
func Init() error {
	return registry.Init()
}

// Release unloads every library, dependents first, and returns the
// registry to the uninitialized state.
func Release() error {
	return registry.Release()
}

func LoadLibrary(name string) (*Library, error) {
	return registry.LoadByName(name)
}

func LoadLibraryFromPath(path string) (*Library, error) {
	return registry.LoadByPath(path)
}

func GetProcAddress(lib *Library, name string) (uintptr, error) {
	if addr, ok := lib.ExportByName(name); ok {
		return addr, nil
	}
	return 0, errors.WithPath(errors.New(errors.ErrNotFound, "ldr.GetProcAddress"), lib.Path())
}

func GetProcAddressByOrdinal(lib *Library, ordinal uint16) (uintptr, error) {
	if addr, ok := lib.ExportByOrdinal(ordinal); ok {
		return addr, nil
	}
	return 0, errors.WithPath(errors.New(errors.ErrNotFound, "ldr.GetProcAddressByOrdinal"), lib.Path())
}

func GetProcAddressByHash(lib *Library, hash uint32) (uintptr, error) {
	if addr, ok := lib.ExportByHash(hash); ok {
		return addr, nil
	}
	return 0, errors.WithPath(errors.New(errors.ErrNotFound, "ldr.GetProcAddressByHash"), lib.Path())
}

// ResolveApiSet returns the host library of an API-Set name in the current process.
func ResolveApiSet(name string) (string, error) {
	return apiset.Resolve(name)
}

// Call loads dllName if needed and calls its export funcName. Arguments are
// converted with pe.Args.
func Call(dllName, funcName string, args ...any) (uintptr, error) {
	native, err := pe.Args(args...)
	if err != nil {
		return 0, err
	}
	if err := Init(); err != nil {
		return 0, err
	}
	lib, err := LoadLibrary(dllName)
	if err != nil {
		return 0, err
	}
	addr, err := GetProcAddress(lib, funcName)
	if err != nil {
		return 0, err
	}
	return worker.Invoke(addr, native...)
}
