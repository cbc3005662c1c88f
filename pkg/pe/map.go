package pe

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/arena"
	"github.com/carved4/go-ldr/pkg/buffer"
	"github.com/carved4/go-ldr/pkg/errors"
)

// Map copies the image into a zeroed, page-aligned region of SizeOfImage bytes
// inside the image arena and applies base relocations. All headers are copied
// before any section body. Mapping twice returns the existing base.
func (img *Image) Map() (uintptr, error) {
	const op = "pe.Map"

	if img.mapped != nil {
		return img.Base(), nil
	}

	mem, err := img.arena.AllocAligned(int(img.Optional.SizeOfImage), arena.PageSize)
	if err != nil {
		return 0, errors.WithPath(err, img.Path)
	}

	off := 0
	if !buffer.Serialize(mem, encode(&img.Dos), &off) {
		return 0, errors.New(errors.ErrSerialization, op)
	}

	off = int(img.Dos.Lfanew)
	opt := encode(&img.Optional)
	if n := int(img.File.SizeOfOptionalHeader); n < len(opt) {
		opt = opt[:n]
	}
	for _, part := range [][]byte{
		binary.LittleEndian.AppendUint32(nil, img.Signature),
		encode(&img.File),
		opt,
	} {
		if !buffer.Serialize(mem, part, &off) {
			return 0, errors.New(errors.ErrSerialization, op)
		}
	}
	// the section table follows the declared optional header size
	off = img.sectionHeadersOffset()

	for i := range img.Sections {
		if !buffer.Serialize(mem, encode(&img.Sections[i].Header), &off) {
			return 0, errors.New(errors.ErrSerialization, op)
		}
	}

	for i := range img.Sections {
		s := &img.Sections[i]
		data := s.Data
		if vs := int(s.Header.VirtualSize); vs > 0 && vs < len(data) {
			data = data[:vs]
		}
		at := int(s.Header.VirtualAddress)
		if !buffer.Serialize(mem, data, &at) {
			return 0, errors.New(errors.ErrSerialization, op)
		}
	}

	img.mapped = mem

	if err := img.Relocate(); err != nil {
		return 0, errors.WithPath(err, img.Path)
	}

	Logger().Debug("mapped image",
		zap.String("path", img.Path),
		zap.Uintptr("base", img.Base()),
		zap.Uint64("preferred", img.Optional.ImageBase),
		zap.Uint32("size", img.Optional.SizeOfImage))

	return img.Base(), nil
}

// Relocate applies the base relocation directory for the difference between
// the mapped base and the preferred base.
func (img *Image) Relocate() error {
	const op = "pe.Relocate"

	v, err := img.View()
	if err != nil {
		return err
	}

	dir := img.Directory(DirectoryBaseReloc)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}

	delta := uint64(img.Base()) - img.Optional.ImageBase
	if delta == 0 {
		return nil
	}

	for walked := uint32(0); walked < dir.Size; {
		blockRVA := dir.VirtualAddress + walked

		var block BaseRelocation
		if err := v.Struct(blockRVA, &block); err != nil {
			return err
		}
		if block.SizeOfBlock < uint32(sizeofBaseRelocation) || block.SizeOfBlock > dir.Size-walked {
			return errors.New(errors.ErrInvalidFileFormat, op)
		}

		count := (block.SizeOfBlock - uint32(sizeofBaseRelocation)) / 2
		for i := uint32(0); i < count; i++ {
			entry, err := v.U16(blockRVA + uint32(sizeofBaseRelocation) + i*2)
			if err != nil {
				return err
			}
			if err := applyRelocation(v, block.VirtualAddress, entry, delta); err != nil {
				return err
			}
		}

		walked += block.SizeOfBlock
	}

	return nil
}

func applyRelocation(v View, page uint32, entry uint16, delta uint64) error {
	at := page + uint32(entry&0xFFF)

	switch entry >> 12 {
	case RelBasedHighLow:
		val, err := v.U32(at)
		if err != nil {
			return err
		}
		return v.PutU32(at, val+uint32(delta))
	case RelBasedDir64:
		val, err := v.U64(at)
		if err != nil {
			return err
		}
		return v.PutU64(at, val+delta)
	case RelBasedAbsolute:
		return nil
	default:
		Logger().Debug("skipping relocation", zap.Uint16("type", entry>>12), zap.Uint32("rva", at))
		return nil
	}
}
