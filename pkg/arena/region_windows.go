//go:build windows

package arena

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

type virtualRegion struct {
	addr uintptr
	size int
	prot uint32
}

func pageProtection(p Protection) uint32 {
	if p == ExecuteReadWrite {
		return windows.PAGE_EXECUTE_READWRITE
	}
	return windows.PAGE_READWRITE
}

func reserve(size int, prot Protection) (region, error) {
	pp := pageProtection(prot)
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, pp)
	if err != nil {
		return nil, err
	}
	return &virtualRegion{addr: addr, size: size, prot: pp}, nil
}

func (r *virtualRegion) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.addr)), r.size)
}

func (r *virtualRegion) commit(off, n int) error {
	_, err := windows.VirtualAlloc(r.addr+uintptr(off), uintptr(n), windows.MEM_COMMIT, r.prot)
	return err
}

func (r *virtualRegion) free() error {
	return windows.VirtualFree(r.addr, 0, windows.MEM_RELEASE)
}
