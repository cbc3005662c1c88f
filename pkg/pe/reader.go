package pe

import (
	"encoding/binary"
	"io"
	"os"
	"unsafe"

	"github.com/carved4/go-ldr/pkg/arena"
	"github.com/carved4/go-ldr/pkg/buffer"
	"github.com/carved4/go-ldr/pkg/errors"
)

// maxHeaderOffset bounds e_lfanew when reading headers out of live memory.
const maxHeaderOffset = 0x1000

type options struct {
	reservation int
	protection  arena.Protection
}

// Option configures image ingestion.
type Option func(*options)

// WithReservation sets the address space reserved for the image arena.
func WithReservation(n int) Option {
	return func(o *options) {
		o.reservation = n
	}
}

// WithProtection sets the page protection of the image arena. Images whose
// code will run need ExecuteReadWrite, the default.
func WithProtection(p arena.Protection) Option {
	return func(o *options) {
		o.protection = p
	}
}

func collect(opts []Option) options {
	o := options{reservation: arena.DefaultReservation, protection: arena.ExecuteReadWrite}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// FromFile parses the image at path. On failure nothing is retained.
func FromFile(path string, opts ...Option) (*Image, error) {
	o := collect(opts)
	img, err := newImage(path, o)
	if err != nil {
		return nil, errors.WithPath(err, path)
	}
	if err := img.readFile(path); err != nil {
		_ = img.Unload()
		return nil, errors.WithPath(err, path)
	}
	return img, nil
}

func (img *Image) readFile(path string) error {
	const op = "pe.FromFile"

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(errors.ErrFileOpen, op, err)
	}
	defer f.Close()

	dos := make([]byte, sizeofDosHeader)
	if _, err := io.ReadFull(f, dos); err != nil {
		return errors.Wrap(errors.ErrFileRead, op, err)
	}
	decode(dos, &img.Dos)
	if img.Dos.Magic != DosSignature || img.Dos.Lfanew < int32(sizeofDosHeader) {
		return errors.New(errors.ErrInvalidFileFormat, op)
	}

	if _, err := f.Seek(int64(img.Dos.Lfanew), io.SeekStart); err != nil {
		return errors.Wrap(errors.ErrFileRead, op, err)
	}

	nt := make([]byte, 4+sizeofFileHeader)
	if _, err := io.ReadFull(f, nt); err != nil {
		return errors.Wrap(errors.ErrFileRead, op, err)
	}
	if err := img.decodeNtHeaders(nt); err != nil {
		return err
	}

	opt := make([]byte, img.File.SizeOfOptionalHeader)
	if _, err := io.ReadFull(f, opt); err != nil {
		return errors.Wrap(errors.ErrFileRead, op, err)
	}
	if err := img.decodeOptionalHeader(opt); err != nil {
		return err
	}

	img.Sections = make([]Section, img.File.NumberOfSections)
	hdr := make([]byte, sizeofSectionHeader)
	for i := range img.Sections {
		if _, err := io.ReadFull(f, hdr); err != nil {
			return errors.Wrap(errors.ErrFileRead, op, err)
		}
		s := &img.Sections[i]
		decode(hdr, &s.Header)

		data, err := img.arena.Alloc(int(s.Header.SizeOfRawData))
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if _, err := f.ReadAt(data, int64(s.Header.PointerToRawData)); err != nil {
				return errors.Wrap(errors.ErrFileRead, op, err)
			}
		}
		s.Data = data
	}

	return nil
}

func (img *Image) decodeNtHeaders(nt []byte) error {
	img.Signature = binary.LittleEndian.Uint32(nt)
	if img.Signature != NtSignature {
		return errors.New(errors.ErrInvalidFileFormat, "pe.ntHeaders")
	}
	decode(nt[4:], &img.File)
	if img.File.Machine != MachineAMD64 {
		return errors.New(errors.ErrUnhandledMachine, "pe.ntHeaders")
	}
	return nil
}

// decodeOptionalHeader accepts the header size the file header declares. A
// shorter header leaves the trailing fields zero.
func (img *Image) decodeOptionalHeader(opt []byte) error {
	full := make([]byte, sizeofOptionalHeader64)
	copy(full, opt)
	decode(full, &img.Optional)

	if len(opt) < 2 || img.Optional.Magic != OptionalHeaderMagic || img.Optional.SizeOfImage == 0 {
		return errors.New(errors.ErrInvalidFileFormat, "pe.optionalHeader")
	}
	return nil
}

// FromBytes parses an image laid out in memory at its virtual offsets, such
// as one already mapped by the OS loader. Every field is copied out of mem.
func FromBytes(mem []byte, opts ...Option) (*Image, error) {
	o := collect(opts)
	img, err := newImage("", o)
	if err != nil {
		return nil, err
	}
	if err := img.readMemory(mem); err != nil {
		_ = img.Unload()
		return nil, err
	}
	return img, nil
}

func (img *Image) readMemory(mem []byte) error {
	const op = "pe.FromMemory"

	off := 0
	dos := make([]byte, sizeofDosHeader)
	if !buffer.Deserialize(dos, mem, &off) {
		return errors.New(errors.ErrSerialization, op)
	}
	decode(dos, &img.Dos)
	if img.Dos.Magic != DosSignature || img.Dos.Lfanew < int32(sizeofDosHeader) {
		return errors.New(errors.ErrInvalidFileFormat, op)
	}

	off = int(img.Dos.Lfanew)
	nt := make([]byte, 4+sizeofFileHeader)
	if !buffer.Deserialize(nt, mem, &off) {
		return errors.New(errors.ErrSerialization, op)
	}
	if err := img.decodeNtHeaders(nt); err != nil {
		return err
	}

	opt := make([]byte, img.File.SizeOfOptionalHeader)
	if !buffer.Deserialize(opt, mem, &off) {
		return errors.New(errors.ErrSerialization, op)
	}
	if err := img.decodeOptionalHeader(opt); err != nil {
		return err
	}

	img.Sections = make([]Section, img.File.NumberOfSections)
	hdr := make([]byte, sizeofSectionHeader)
	for i := range img.Sections {
		if !buffer.Deserialize(hdr, mem, &off) {
			return errors.New(errors.ErrSerialization, op)
		}
		s := &img.Sections[i]
		decode(hdr, &s.Header)

		size := s.Header.VirtualSize
		if size == 0 {
			size = s.Header.SizeOfRawData
		}
		data, err := img.arena.Alloc(int(size))
		if err != nil {
			return err
		}
		at := int(s.Header.VirtualAddress)
		if !buffer.Deserialize(data, mem, &at) {
			return errors.New(errors.ErrSerialization, op)
		}
		s.Data = data
	}

	return nil
}

// FromMemory parses the image resident at base in the current process.
func FromMemory(base uintptr, opts ...Option) (*Image, error) {
	mem, err := residentImage(base)
	if err != nil {
		return nil, err
	}
	return FromBytes(mem, opts...)
}

// FromResident parses the image at base and adopts the resident copy as its
// mapping. The image is never detached or unmapped by Unload.
func FromResident(base uintptr, path string, opts ...Option) (*Image, error) {
	mem, err := residentImage(base)
	if err != nil {
		return nil, err
	}
	img, err := FromBytes(mem, opts...)
	if err != nil {
		return nil, errors.WithPath(err, path)
	}
	img.Path = path
	img.mapped = mem
	img.resident = true
	return img, nil
}

// residentImage sizes the live image at base from its own headers.
func residentImage(base uintptr) ([]byte, error) {
	const op = "pe.FromMemory"

	if base == 0 {
		return nil, errors.New(errors.ErrInvalidFileFormat, op)
	}

	dos := unsafe.Slice((*byte)(unsafe.Pointer(base)), sizeofDosHeader)
	var hdr DosHeader
	decode(dos, &hdr)
	if hdr.Magic != DosSignature || hdr.Lfanew < int32(sizeofDosHeader) || hdr.Lfanew >= maxHeaderOffset {
		return nil, errors.New(errors.ErrInvalidFileFormat, op)
	}

	// SizeOfImage sits 56 bytes into the optional header
	ntOff := uintptr(hdr.Lfanew)
	if *(*uint32)(unsafe.Pointer(base + ntOff)) != NtSignature {
		return nil, errors.New(errors.ErrInvalidFileFormat, op)
	}
	sizeOfImage := *(*uint32)(unsafe.Pointer(base + ntOff + 4 + uintptr(sizeofFileHeader) + 56))
	if sizeOfImage == 0 {
		return nil, errors.New(errors.ErrInvalidFileFormat, op)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(base)), sizeOfImage), nil
}
