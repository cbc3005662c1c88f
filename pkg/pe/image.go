// Package pe reads, maps and links 64-bit PE images in the current process.
package pe

import (
	"unsafe"

	"github.com/carved4/go-ldr/pkg/arena"
	"github.com/carved4/go-ldr/pkg/errors"
)

// Section is a section header plus its raw bytes, owned by the image arena.
type Section struct {
	Header SectionHeader
	Data   []byte
}

// Image is a parsed PE image. It owns an arena that holds section data and,
// once mapped, the mapped copy itself. Releasing the image releases the arena.
type Image struct {
	Path      string
	Dos       DosHeader
	Signature uint32
	File      FileHeader
	Optional  OptionalHeader64
	Sections  []Section

	arena    *arena.Arena
	mapped   []byte
	resident bool
	attached bool
	invoker  Invoker
}

// Arena returns the arena backing the image.
func (img *Image) Arena() *arena.Arena {
	return img.arena
}

// Mapped reports whether the image has a mapped copy.
func (img *Image) Mapped() bool {
	return img.mapped != nil
}

// Resident reports whether the mapped copy belongs to the OS loader rather than this image.
func (img *Image) Resident() bool {
	return img.resident
}

// Attached reports whether the entry point ran with process attach and succeeded.
func (img *Image) Attached() bool {
	return img.attached
}

// Base returns the address of the mapped copy, or 0 before Map.
func (img *Image) Base() uintptr {
	if img.mapped == nil {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(img.mapped)))
}

// View returns a bounds-checked view over the mapped copy.
func (img *Image) View() (View, error) {
	if img.mapped == nil {
		return View{}, errors.New(errors.ErrNotMapped, "pe.View")
	}
	return NewView(img.mapped), nil
}

// Directory returns data directory i of the optional header.
func (img *Image) Directory(i int) DataDirectory {
	if i < 0 || i >= NumberOfDirectories || uint32(i) >= img.Optional.NumberOfRvaAndSizes {
		return DataDirectory{}
	}
	return img.Optional.DataDirectory[i]
}

// IsDLL reports whether the file header marks the image as a dynamic library.
func (img *Image) IsDLL() bool {
	return img.File.Characteristics&FileDLL != 0
}

// Unload frees everything the image owns, including the mapped copy. A
// mapped and attached image is detached first through the arena's cleanup
// chain. Unloading twice is a no-op.
func (img *Image) Unload() error {
	if img == nil || img.arena == nil {
		return nil
	}
	err := img.arena.Release()
	img.mapped = nil
	img.attached = false
	return err
}

func newImage(path string, o options) (*Image, error) {
	a, err := arena.New(o.reservation, o.protection)
	if err != nil {
		return nil, err
	}
	return &Image{Path: path, arena: a}, nil
}

// sectionHeadersOffset is the file offset of the section table.
func (img *Image) sectionHeadersOffset() int {
	return int(img.Dos.Lfanew) + 4 + sizeofFileHeader + int(img.File.SizeOfOptionalHeader)
}
