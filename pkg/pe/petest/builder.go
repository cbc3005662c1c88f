// Package petest builds small synthetic PE32+ images for tests.
//
// Images use a single section and equal file and section alignment, so the
// file bytes are also a valid in-memory layout.
package petest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"github.com/carved4/go-ldr/pkg/buffer"
)

const (
	align        = 0x1000
	lfanew       = 0x40
	sectionRVA   = 0x1000
	optionalSize = 240

	DefaultImageBase = 0x180000000
)

type export struct {
	name      string
	rva       uint32
	forwarder string
}

type importSpec struct {
	library  string
	names    []string
	ordinals []uint16
}

type reloc struct {
	rva uint32
	typ uint16
}

// Builder accumulates section contents and directory entries.
type Builder struct {
	ImageBase    uint64
	Machine      uint16
	DLL          bool
	EntryRVA     uint32
	OrdinalBase  uint32
	OptionalSize uint16

	sec     []byte
	exports []export
	imports []importSpec
	relocs  []reloc
}

func New() *Builder {
	return &Builder{
		ImageBase:    DefaultImageBase,
		Machine:      0x8664,
		DLL:          true,
		OrdinalBase:  1,
		OptionalSize: optionalSize,
	}
}

// Data places b in the section and returns its RVA.
func (b *Builder) Data(data []byte) uint32 {
	for len(b.sec)%8 != 0 {
		b.sec = append(b.sec, 0)
	}
	rva := sectionRVA + uint32(len(b.sec))
	b.sec = append(b.sec, data...)
	return rva
}

// U32 places a little-endian 32-bit value and returns its RVA.
func (b *Builder) U32(v uint32) uint32 {
	return b.Data(binary.LittleEndian.AppendUint32(nil, v))
}

// U64 places a little-endian 64-bit value and returns its RVA.
func (b *Builder) U64(v uint64) uint32 {
	return b.Data(binary.LittleEndian.AppendUint64(nil, v))
}

// Stub places a routine that returns TRUE and returns its RVA.
func (b *Builder) Stub() uint32 {
	// mov eax, 1; ret
	return b.Data([]byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0xC3})
}

// Export adds a named export at rva.
func (b *Builder) Export(name string, rva uint32) {
	b.exports = append(b.exports, export{name: name, rva: rva})
}

// Forward adds a named export forwarded to target, e.g. "other.Func".
func (b *Builder) Forward(name, target string) {
	b.exports = append(b.exports, export{name: name, forwarder: target})
}

// Import adds an import descriptor for library.
func (b *Builder) Import(library string, names ...string) {
	b.imports = append(b.imports, importSpec{library: library, names: names})
}

// ImportOrdinal adds an import descriptor for library importing by ordinal.
func (b *Builder) ImportOrdinal(library string, ordinals ...uint16) {
	b.imports = append(b.imports, importSpec{library: library, ordinals: ordinals})
}

// RelocHighLow records a HIGHLOW relocation for the 32-bit field at rva.
func (b *Builder) RelocHighLow(rva uint32) {
	b.relocs = append(b.relocs, reloc{rva: rva, typ: 3})
}

// RelocDir64 records a DIR64 relocation for the 64-bit field at rva.
func (b *Builder) RelocDir64(rva uint32) {
	b.relocs = append(b.relocs, reloc{rva: rva, typ: 10})
}

// Bytes lays out the directories and returns the finished file. The builder
// is left unchanged, so Bytes can be called repeatedly.
func (b *Builder) Bytes() []byte {
	saved := b.sec
	b.sec = append([]byte(nil), saved...)
	defer func() { b.sec = saved }()

	var dirs [16][2]uint32

	if len(b.exports) > 0 {
		dirs[0] = b.buildExports()
	}
	if len(b.imports) > 0 {
		dirs[1] = b.buildImports()
	}
	if len(b.relocs) > 0 {
		dirs[5] = b.buildRelocs()
	}

	secSize := alignUp(max(uint32(len(b.sec)), 1), align)
	sec := make([]byte, secSize)
	copy(sec, b.sec)

	file := make([]byte, align, align+int(secSize))
	putHeaders(file, b, dirs, secSize)
	return append(file, sec...)
}

// WriteFile writes the image into dir and returns its path.
func (b *Builder) WriteFile(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, b.Bytes(), 0o644)
}

func (b *Builder) buildExports() [2]uint32 {
	n := uint32(len(b.exports))
	dir := b.Data(make([]byte, 40))

	funcs := b.Data(make([]byte, 4*n))
	names := b.Data(make([]byte, 4*n))
	ords := b.Data(make([]byte, 2*n))

	// the name table is sorted, function indices follow insertion order
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	buffer.Sort(order, func(x, y int) int {
		return strings.Compare(b.exports[x].name, b.exports[y].name)
	})

	fwd := make([]uint32, n)
	for i, e := range b.exports {
		if e.forwarder != "" {
			fwd[i] = b.Data(append([]byte(e.forwarder), 0))
		}
	}
	end := uint32(len(b.sec)) + sectionRVA

	for slot, i := range order {
		e := b.exports[i]
		rva := e.rva
		if e.forwarder != "" {
			rva = fwd[i]
		}
		b.put32(funcs+4*uint32(i), rva)
		b.put32(names+4*uint32(slot), b.Data(append([]byte(e.name), 0)))
		b.put16(ords+2*uint32(slot), uint16(i))
	}

	b.put32(dir+16, b.OrdinalBase)
	b.put32(dir+20, n)
	b.put32(dir+24, n)
	b.put32(dir+28, funcs)
	b.put32(dir+32, names)
	b.put32(dir+36, ords)

	return [2]uint32{dir, end - dir}
}

func (b *Builder) buildImports() [2]uint32 {
	n := uint32(len(b.imports))
	desc := b.Data(make([]byte, 20*(n+1)))

	for i, imp := range b.imports {
		var thunks []uint64
		for _, name := range imp.names {
			hint := b.Data(append([]byte{0, 0}, append([]byte(name), 0)...))
			thunks = append(thunks, uint64(hint))
		}
		for _, ord := range imp.ordinals {
			thunks = append(thunks, 1<<63|uint64(ord))
		}
		thunks = append(thunks, 0)

		ilt := b.Data(make([]byte, 8*len(thunks)))
		iat := b.Data(make([]byte, 8*len(thunks)))
		for j, t := range thunks {
			b.put64(ilt+8*uint32(j), t)
			b.put64(iat+8*uint32(j), t)
		}
		name := b.Data(append([]byte(imp.library), 0))

		d := desc + 20*uint32(i)
		b.put32(d, ilt)
		b.put32(d+12, name)
		b.put32(d+16, iat)
	}

	return [2]uint32{desc, 20 * (n + 1)}
}

func (b *Builder) buildRelocs() [2]uint32 {
	pages := map[uint32][]uint16{}
	var order []uint32
	for _, r := range b.relocs {
		page := r.rva &^ 0xFFF
		if _, ok := pages[page]; !ok {
			order = append(order, page)
		}
		pages[page] = append(pages[page], r.typ<<12|uint16(r.rva&0xFFF))
	}

	var blob []byte
	for _, page := range order {
		entries := pages[page]
		if len(entries)%2 != 0 {
			entries = append(entries, 0)
		}
		blob = binary.LittleEndian.AppendUint32(blob, page)
		blob = binary.LittleEndian.AppendUint32(blob, uint32(8+2*len(entries)))
		for _, e := range entries {
			blob = binary.LittleEndian.AppendUint16(blob, e)
		}
	}

	return [2]uint32{b.Data(blob), uint32(len(blob))}
}

func putHeaders(file []byte, b *Builder, dirs [16][2]uint32, secSize uint32) {
	le := binary.LittleEndian

	le.PutUint16(file[0:], 0x5A4D)
	le.PutUint32(file[0x3C:], lfanew)

	nt := file[lfanew:]
	le.PutUint32(nt[0:], 0x00004550)

	fh := nt[4:]
	le.PutUint16(fh[0:], b.Machine)
	le.PutUint16(fh[2:], 1)
	le.PutUint16(fh[16:], b.OptionalSize)
	chars := uint16(0x0022) // executable, large address aware
	if b.DLL {
		chars |= 0x2000
	}
	le.PutUint16(fh[18:], chars)

	opt := make([]byte, optionalSize)
	le.PutUint16(opt[0:], 0x20b)
	le.PutUint32(opt[16:], b.EntryRVA)
	le.PutUint64(opt[24:], b.ImageBase)
	le.PutUint32(opt[32:], align)
	le.PutUint32(opt[36:], align)
	le.PutUint32(opt[56:], sectionRVA+secSize)
	le.PutUint32(opt[60:], align)
	le.PutUint16(opt[68:], 3)
	le.PutUint32(opt[108:], 16)
	for i, d := range dirs {
		le.PutUint32(opt[112+8*i:], d[0])
		le.PutUint32(opt[116+8*i:], d[1])
	}
	copy(nt[24:], opt[:min(int(b.OptionalSize), optionalSize)])

	sh := nt[24+int(b.OptionalSize):]
	copy(sh[0:8], ".data")
	le.PutUint32(sh[8:], secSize)
	le.PutUint32(sh[12:], sectionRVA)
	le.PutUint32(sh[16:], secSize)
	le.PutUint32(sh[20:], sectionRVA)
	le.PutUint32(sh[36:], 0xE0000040) // rwx, initialized data
}

func (b *Builder) put16(rva uint32, v uint16) {
	binary.LittleEndian.PutUint16(b.sec[rva-sectionRVA:], v)
}

func (b *Builder) put32(rva, v uint32) {
	binary.LittleEndian.PutUint32(b.sec[rva-sectionRVA:], v)
}

func (b *Builder) put64(rva uint32, v uint64) {
	binary.LittleEndian.PutUint64(b.sec[rva-sectionRVA:], v)
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
