//go:build windows

package peb

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/carved4/go-ldr/pkg/errors"
)

type LIST_ENTRY struct {
	Flink *LIST_ENTRY
	Blink *LIST_ENTRY
}

type UNICODE_STRING struct {
	Length        uint16
	MaximumLength uint16
	Buffer        *uint16
}

type LDR_DATA_TABLE_ENTRY struct {
	InLoadOrderLinks           LIST_ENTRY
	InMemoryOrderLinks         LIST_ENTRY
	InInitializationOrderLinks LIST_ENTRY
	DllBase                    uintptr
	EntryPoint                 uintptr
	SizeOfImage                uintptr
	FullDllName                UNICODE_STRING
	BaseDllName                UNICODE_STRING
}

type PEB_LDR_DATA struct {
	Length                          uint32
	Initialized                     uint32
	SsHandle                        uintptr
	InLoadOrderModuleList           LIST_ENTRY
	InMemoryOrderModuleList         LIST_ENTRY
	InInitializationOrderModuleList LIST_ENTRY
}

// PEB mirrors the x64 layout up to ApiSetMap at offset 0x68.
type PEB struct {
	InheritedAddressSpace    byte
	ReadImageFileExecOptions byte
	BeingDebugged            byte
	BitField                 byte
	Mutant                   uintptr
	ImageBaseAddress         uintptr
	Ldr                      *PEB_LDR_DATA
	ProcessParameters        uintptr
	SubSystemData            uintptr
	ProcessHeap              uintptr
	FastPebLock              uintptr
	AtlThunkSListPtr         uintptr
	IFEOKey                  uintptr
	CrossProcessFlags        uint32
	KernelCallbackTable      uintptr
	SystemReserved           uint32
	AtlThunkSListPtr32       uint32
	ApiSetMap                uintptr
}

// Current returns the environment block of this process.
func Current() (*PEB, error) {
	var pbi windows.PROCESS_BASIC_INFORMATION
	err := windows.NtQueryInformationProcess(
		windows.CurrentProcess(),
		windows.ProcessBasicInformation,
		unsafe.Pointer(&pbi),
		uint32(unsafe.Sizeof(pbi)),
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrProcessQuery, "peb.Current", err)
	}
	if pbi.PebBaseAddress == nil {
		return nil, errors.New(errors.ErrProcessQuery, "peb.Current")
	}
	return (*PEB)(unsafe.Pointer(pbi.PebBaseAddress)), nil
}

func unicodeString(s UNICODE_STRING) string {
	if s.Buffer == nil || s.Length == 0 {
		return ""
	}
	return windows.UTF16ToString(unsafe.Slice(s.Buffer, s.Length/2))
}

// Modules walks the in-load-order module list.
func Modules() ([]Module, error) {
	p, err := Current()
	if err != nil {
		return nil, err
	}
	if p.Ldr == nil {
		return nil, errors.New(errors.ErrProcessQuery, "peb.Modules")
	}

	var mods []Module
	head := &p.Ldr.InLoadOrderModuleList
	for cur := head.Flink; cur != nil && cur != head; cur = cur.Flink {
		entry := (*LDR_DATA_TABLE_ENTRY)(unsafe.Pointer(cur))
		if entry.DllBase == 0 {
			continue
		}
		mods = append(mods, Module{
			Name: unicodeString(entry.BaseDllName),
			Path: unicodeString(entry.FullDllName),
			Base: entry.DllBase,
			Size: entry.SizeOfImage,
		})
	}
	return mods, nil
}

// ApiSetMap returns the API-Set namespace the process was started with. The
// slice is bounded by the memory region that holds it and, for schema 6, by
// the namespace's own size field.
func ApiSetMap() ([]byte, error) {
	const op = "peb.ApiSetMap"

	p, err := Current()
	if err != nil {
		return nil, err
	}
	base := p.ApiSetMap
	if base == 0 {
		return nil, errors.New(errors.ErrSetMapNotFound, op)
	}

	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(base, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return nil, errors.Wrap(errors.ErrProcessQuery, op, err)
	}
	size := mbi.BaseAddress + mbi.RegionSize - base
	if size < 8 {
		return nil, errors.New(errors.ErrSetMapNotFound, op)
	}

	ns := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	if binary.LittleEndian.Uint32(ns) == 6 {
		if declared := uintptr(binary.LittleEndian.Uint32(ns[4:])); declared > 0 && declared < size {
			ns = ns[:declared]
		}
	}
	return ns, nil
}
