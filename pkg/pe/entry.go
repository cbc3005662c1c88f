package pe

import (
	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/errors"
)

// Invoker calls native code. Entry points are untrusted image code, so every
// invocation is fallible.
type Invoker interface {
	Invoke(fn uintptr, args ...uintptr) (uintptr, error)
}

// EntryPoint is the DllMain routine of a mapped image. It can only be obtained
// from an image that has been mapped.
type EntryPoint struct {
	fn   uintptr
	base uintptr
}

// Valid reports whether there is a routine to call.
func (ep EntryPoint) Valid() bool {
	return ep.fn != 0
}

func (ep EntryPoint) Address() uintptr {
	return ep.fn
}

// Call invokes the routine as DllMain(base, reason, nil) and reports its BOOL result.
func (ep EntryPoint) Call(inv Invoker, reason uint32) (bool, error) {
	if !ep.Valid() {
		return false, errors.New(errors.ErrEntryPointCall, "pe.EntryPoint")
	}
	r, err := inv.Invoke(ep.fn, ep.base, uintptr(reason), 0)
	if err != nil {
		return false, err
	}
	return uint32(r) != 0, nil
}

// EntryPoint returns the image's entry routine. It is invalid when the entry
// RVA is zero or the image is not a DLL.
func (img *Image) EntryPoint() (EntryPoint, error) {
	if img.mapped == nil {
		return EntryPoint{}, errors.New(errors.ErrNotMapped, "pe.EntryPoint")
	}
	rva := img.Optional.AddressOfEntryPoint
	if rva == 0 || !img.IsDLL() {
		return EntryPoint{}, nil
	}
	if rva >= uint32(len(img.mapped)) {
		return EntryPoint{}, errors.New(errors.ErrOutOfBounds, "pe.EntryPoint")
	}
	base := img.Base()
	return EntryPoint{fn: base + uintptr(rva), base: base}, nil
}

// Attach calls the entry point with DLL_PROCESS_ATTACH. A FALSE result fails
// the image, which stays mapped until Unload. A successful attach registers
// the matching detach on the image arena. Images adopted from the OS loader
// are never attached again.
func (img *Image) Attach(inv Invoker) error {
	const op = "pe.Attach"

	ep, err := img.EntryPoint()
	if err != nil {
		return err
	}
	if !ep.Valid() || img.attached || img.resident {
		return nil
	}

	ok, err := ep.Call(inv, DllProcessAttach)
	if err != nil {
		return errors.Wrap(errors.ErrEntryPointCall, op, err)
	}
	if !ok {
		return errors.New(errors.ErrEntryPointCall, op)
	}

	img.attached = true
	img.invoker = inv
	return img.arena.AddCleanupTask(func(any) { img.detach(ep) }, nil)
}

// detach runs from the arena cleanup chain, before the mapping is freed.
func (img *Image) detach(ep EntryPoint) {
	if !img.attached {
		return
	}
	img.attached = false
	if _, err := ep.Call(img.invoker, DllProcessDetach); err != nil {
		Logger().Warn("detach failed", zap.String("path", img.Path), zap.Error(err))
	}
}
