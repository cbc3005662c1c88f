package pe

import (
	"encoding/binary"

	"github.com/carved4/go-ldr/pkg/errors"
)

// maxNameLength bounds every NUL-terminated string read out of an image.
const maxNameLength = 4096

// View is a bounds-checked window over a mapped image. Every access is
// addressed by RVA and must fall inside the image's declared size.
type View struct {
	mem []byte
}

func NewView(mem []byte) View {
	return View{mem: mem}
}

func (v View) Len() int {
	return len(v.mem)
}

// Slice returns n bytes at rva.
func (v View) Slice(rva, n uint32) ([]byte, error) {
	end := uint64(rva) + uint64(n)
	if end > uint64(len(v.mem)) {
		return nil, errors.New(errors.ErrOutOfBounds, "pe.View")
	}
	return v.mem[rva:end:end], nil
}

// Contains reports whether n bytes at rva lie inside the view.
func (v View) Contains(rva uint32, n uint64) bool {
	return n <= uint64(len(v.mem)) && uint64(rva)+n <= uint64(len(v.mem))
}

// ContainsTable reports whether count entries of width bytes at rva lie
// inside the view.
func (v View) ContainsTable(rva, count, width uint32) bool {
	return v.Contains(rva, uint64(count)*uint64(width))
}

func (v View) U16(rva uint32) (uint16, error) {
	b, err := v.Slice(rva, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (v View) U32(rva uint32) (uint32, error) {
	b, err := v.Slice(rva, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (v View) U64(rva uint32) (uint64, error) {
	b, err := v.Slice(rva, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (v View) PutU32(rva, val uint32) error {
	b, err := v.Slice(rva, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, val)
	return nil
}

func (v View) PutU64(rva uint32, val uint64) error {
	b, err := v.Slice(rva, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, val)
	return nil
}

// Struct decodes the fixed-size structure at rva into out.
func (v View) Struct(rva uint32, out any) error {
	n := binary.Size(out)
	if n < 0 {
		return errors.New(errors.ErrSerialization, "pe.View")
	}
	b, err := v.Slice(rva, uint32(n))
	if err != nil {
		return err
	}
	if !decode(b, out) {
		return errors.New(errors.ErrSerialization, "pe.View")
	}
	return nil
}

// CString reads a NUL-terminated string at rva.
func (v View) CString(rva uint32) (string, error) {
	if uint64(rva) >= uint64(len(v.mem)) {
		return "", errors.New(errors.ErrOutOfBounds, "pe.View")
	}
	tail := v.mem[rva:]
	for i := 0; i < len(tail) && i < maxNameLength; i++ {
		if tail[i] == 0 {
			return string(tail[:i]), nil
		}
	}
	return "", errors.New(errors.ErrOutOfBounds, "pe.View")
}
