package pe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carved4/go-ldr/pkg/arena"
	"github.com/carved4/go-ldr/pkg/errors"
	"github.com/carved4/go-ldr/pkg/pe/petest"
)

var testOpts = []Option{WithReservation(1 << 22), WithProtection(arena.ReadWrite)}

func writeImage(t *testing.T, b *petest.Builder) string {
	t.Helper()
	path, err := b.WriteFile(t.TempDir(), "test.dll")
	require.NoError(t, err)
	return path
}

func loadImage(t *testing.T, b *petest.Builder) *Image {
	t.Helper()
	img, err := FromFile(writeImage(t, b), testOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = img.Unload() })
	return img
}

func mapImage(t *testing.T, b *petest.Builder) (*Image, View) {
	t.Helper()
	img := loadImage(t, b)
	_, err := img.Map()
	require.NoError(t, err)
	v, err := img.View()
	require.NoError(t, err)
	return img, v
}

type invocation struct {
	fn   uintptr
	args []uintptr
}

type fakeInvoker struct {
	calls []invocation
	ret   uintptr
}

func (f *fakeInvoker) Invoke(fn uintptr, args ...uintptr) (uintptr, error) {
	f.calls = append(f.calls, invocation{fn: fn, args: args})
	return f.ret, nil
}

func TestFromFileParsesHeaders(t *testing.T) {
	b := petest.New()
	marker := b.Data([]byte("section payload"))
	img := loadImage(t, b)

	assert.Equal(t, uint16(DosSignature), img.Dos.Magic)
	assert.Equal(t, uint32(NtSignature), img.Signature)
	assert.Equal(t, uint16(MachineAMD64), img.File.Machine)
	assert.Equal(t, uint64(petest.DefaultImageBase), img.Optional.ImageBase)
	assert.True(t, img.IsDLL())
	assert.False(t, img.Mapped())

	require.Len(t, img.Sections, 1)
	s := img.Sections[0]
	assert.Equal(t, ".data", s.Header.SectionName())
	assert.Equal(t, int(s.Header.SizeOfRawData), len(s.Data))
	off := marker - s.Header.VirtualAddress
	assert.Equal(t, "section payload", string(s.Data[off:off+15]))
	assert.True(t, img.Arena().Owns(s.Data))
}

func TestFromFileHonorsDeclaredOptionalHeaderSize(t *testing.T) {
	b := petest.New()
	b.OptionalSize = 256
	marker := b.Data([]byte("shifted"))
	img := loadImage(t, b)

	require.Len(t, img.Sections, 1)
	off := marker - img.Sections[0].Header.VirtualAddress
	assert.Equal(t, "shifted", string(img.Sections[0].Data[off:off+7]))
}

func TestFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := FromFile(filepath.Join(dir, "missing.dll"), testOpts...)
	assert.True(t, errors.IsCode(err, errors.ErrFileOpen))

	notPE := filepath.Join(dir, "text.dll")
	require.NoError(t, os.WriteFile(notPE, make([]byte, 512), 0o644))
	_, err = FromFile(notPE, testOpts...)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidFileFormat))

	x86 := petest.New()
	x86.Machine = 0x14c
	_, err = FromFile(writeImage(t, x86), testOpts...)
	assert.True(t, errors.IsCode(err, errors.ErrUnhandledMachine))

	truncated := filepath.Join(dir, "short.dll")
	require.NoError(t, os.WriteFile(truncated, petest.New().Bytes()[:0x100], 0o644))
	_, err = FromFile(truncated, testOpts...)
	assert.True(t, errors.IsCode(err, errors.ErrFileRead))

	var le *errors.LoaderError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, truncated, le.Path)
}

func TestFromBytesMatchesFromFile(t *testing.T) {
	b := petest.New()
	b.Data([]byte("abc"))
	raw := b.Bytes()

	img, err := FromBytes(raw, testOpts...)
	require.NoError(t, err)
	defer img.Unload()

	fromFile := loadImage(t, b)
	assert.Equal(t, fromFile.Optional, img.Optional)
	assert.Equal(t, fromFile.File, img.File)
	require.Len(t, img.Sections, 1)
	assert.Equal(t, fromFile.Sections[0].Data, img.Sections[0].Data)

	_, err = FromBytes(raw[:0x30], testOpts...)
	assert.True(t, errors.IsCode(err, errors.ErrSerialization))
}

func TestMapCopiesHeadersAndSections(t *testing.T) {
	b := petest.New()
	marker := b.Data([]byte("mapped"))
	img, v := mapImage(t, b)

	assert.Equal(t, int(img.Optional.SizeOfImage), v.Len())
	magic, err := v.U16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(DosSignature), magic)

	sig, err := v.U32(uint32(img.Dos.Lfanew))
	require.NoError(t, err)
	assert.Equal(t, uint32(NtSignature), sig)

	got, err := v.Slice(marker, 6)
	require.NoError(t, err)
	assert.Equal(t, "mapped", string(got))

	var sh SectionHeader
	require.NoError(t, v.Struct(uint32(img.sectionHeadersOffset()), &sh))
	assert.Equal(t, ".data", sh.SectionName())

	assert.Zero(t, img.Base()%uintptr(arena.PageSize))
	again, err := img.Map()
	require.NoError(t, err)
	assert.Equal(t, img.Base(), again)
}

func TestRelocationPatchesByDelta(t *testing.T) {
	b := petest.New()
	hl := b.U32(0x11223344)
	b.RelocHighLow(hl)
	d64 := b.U64(petest.DefaultImageBase + 0x2000)
	b.RelocDir64(d64)
	untouched := b.U32(0xCAFEBABE)

	img, v := mapImage(t, b)
	delta := uint64(img.Base()) - img.Optional.ImageBase
	require.NotZero(t, delta)

	got, err := v.U32(hl)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344)+uint32(delta), got)
	assert.Equal(t, uint32(delta), got-0x11223344)

	got64, err := v.U64(d64)
	require.NoError(t, err)
	assert.Equal(t, uint64(img.Base())+0x2000, got64)

	same, err := v.U32(untouched)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), same)
}

func TestExportsResolveNamesAndOrdinals(t *testing.T) {
	b := petest.New()
	b.OrdinalBase = 5
	hello := b.Stub()
	world := b.Stub()
	b.Export("Hello", hello)
	b.Export("World", world)
	b.Forward("Moved", "other.Target")

	img, _ := mapImage(t, b)
	exports, err := img.ResolveExports()
	require.NoError(t, err)
	require.Len(t, exports, 3)

	byName := map[string]Export{}
	for _, e := range exports {
		byName[e.Name] = e
	}

	assert.Equal(t, img.Base()+uintptr(hello), byName["Hello"].Address)
	assert.Equal(t, uint16(5), byName["Hello"].Ordinal)
	assert.Equal(t, img.Base()+uintptr(world), byName["World"].Address)
	assert.Equal(t, uint16(6), byName["World"].Ordinal)

	moved := byName["Moved"]
	assert.True(t, moved.Forwarded())
	assert.Equal(t, "other.Target", moved.Forwarder)
	assert.Zero(t, moved.Address)
}

func TestExportsAbsentDirectory(t *testing.T) {
	img, _ := mapImage(t, petest.New())
	exports, err := img.ResolveExports()
	require.NoError(t, err)
	assert.Empty(t, exports)
}

func TestResolveExportsRequiresMapping(t *testing.T) {
	img := loadImage(t, petest.New())
	_, err := img.ResolveExports()
	assert.True(t, errors.IsCode(err, errors.ErrNotMapped))
	_, err = img.EntryPoint()
	assert.True(t, errors.IsCode(err, errors.ErrNotMapped))
}

type fakeLibrary struct {
	names    map[string]uintptr
	ordinals map[uint16]uintptr
}

func (l fakeLibrary) ExportByName(name string) (uintptr, bool) {
	a, ok := l.names[name]
	return a, ok
}

func (l fakeLibrary) ExportByOrdinal(ord uint16) (uintptr, bool) {
	a, ok := l.ordinals[ord]
	return a, ok
}

type fakeImporter struct {
	libs      map[string]fakeLibrary
	requested []string
}

func (f *fakeImporter) Import(name string) (ExportSource, error) {
	f.requested = append(f.requested, name)
	lib, ok := f.libs[name]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "fake.Import")
	}
	return lib, nil
}

func iatSlots(t *testing.T, img *Image, v View) [][]uint64 {
	t.Helper()
	dir := img.Directory(DirectoryImport)
	var out [][]uint64
	for rva := dir.VirtualAddress; ; rva += uint32(sizeofImportDescriptor) {
		var d ImportDescriptor
		require.NoError(t, v.Struct(rva, &d))
		if d.isZero() {
			return out
		}
		var slots []uint64
		for i := uint32(0); ; i++ {
			orig, err := v.U64(d.OriginalFirstThunk + 8*i)
			require.NoError(t, err)
			if orig == 0 {
				break
			}
			val, err := v.U64(d.FirstThunk + 8*i)
			require.NoError(t, err)
			slots = append(slots, val)
		}
		out = append(out, slots)
	}
}

func TestResolveImportsWritesAddresses(t *testing.T) {
	b := petest.New()
	b.Import("first.dll", "Alpha", "Beta")
	b.ImportOrdinal("second.dll", 7)

	img, v := mapImage(t, b)
	imp := &fakeImporter{libs: map[string]fakeLibrary{
		"first.dll":  {names: map[string]uintptr{"Alpha": 0x1111, "Beta": 0x2222}},
		"second.dll": {ordinals: map[uint16]uintptr{7: 0x7777}},
	}}

	require.NoError(t, img.ResolveImports(imp))
	assert.Equal(t, []string{"first.dll", "second.dll"}, imp.requested)
	assert.Equal(t, [][]uint64{{0x1111, 0x2222}, {0x7777}}, iatSlots(t, img, v))

	listed, err := img.Imports()
	require.NoError(t, err)
	assert.Equal(t, []ImportedLibrary{
		{Name: "first.dll", Symbols: []string{"Alpha", "Beta"}},
		{Name: "second.dll", Symbols: []string{"#7"}},
	}, listed)
}

func TestResolveImportsFailsOnMissingSymbol(t *testing.T) {
	b := petest.New()
	b.Import("first.dll", "Alpha", "Missing")
	img, _ := mapImage(t, b)

	imp := &fakeImporter{libs: map[string]fakeLibrary{
		"first.dll": {names: map[string]uintptr{"Alpha": 0x1111}},
	}}
	err := img.ResolveImports(imp)
	assert.True(t, errors.IsCode(err, errors.ErrImportResolution))
	assert.Contains(t, err.Error(), "first.dll!Missing")

	err = img.ResolveImports(&fakeImporter{})
	assert.True(t, errors.IsCode(err, errors.ErrImportResolution))
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestAttachAndDetach(t *testing.T) {
	b := petest.New()
	b.EntryRVA = b.Stub()
	img := loadImage(t, b)
	_, err := img.Map()
	require.NoError(t, err)

	inv := &fakeInvoker{ret: 1}
	require.NoError(t, img.Attach(inv))
	require.NoError(t, img.Attach(inv))
	assert.True(t, img.Attached())

	require.Len(t, inv.calls, 1)
	assert.Equal(t, img.Base()+uintptr(b.EntryRVA), inv.calls[0].fn)
	assert.Equal(t, []uintptr{img.Base(), DllProcessAttach, 0}, inv.calls[0].args)

	require.NoError(t, img.Unload())
	require.Len(t, inv.calls, 2)
	assert.Equal(t, []uintptr{inv.calls[0].args[0], DllProcessDetach, 0}, inv.calls[1].args)
	assert.False(t, img.Mapped())

	require.NoError(t, img.Unload())
	assert.Len(t, inv.calls, 2)
}

func TestAttachFailureSkipsDetach(t *testing.T) {
	b := petest.New()
	b.EntryRVA = b.Stub()
	img := loadImage(t, b)
	_, err := img.Map()
	require.NoError(t, err)

	inv := &fakeInvoker{ret: 0}
	err = img.Attach(inv)
	assert.True(t, errors.IsCode(err, errors.ErrEntryPointCall))
	assert.False(t, img.Attached())
	assert.True(t, img.Mapped())

	require.NoError(t, img.Unload())
	assert.Len(t, inv.calls, 1)
}

func TestAttachSkipsExecutablesAndMissingEntry(t *testing.T) {
	exe := petest.New()
	exe.DLL = false
	exe.EntryRVA = exe.Stub()
	img := loadImage(t, exe)
	_, err := img.Map()
	require.NoError(t, err)

	inv := &fakeInvoker{ret: 1}
	require.NoError(t, img.Attach(inv))
	assert.Empty(t, inv.calls)

	noEntry := loadImage(t, petest.New())
	_, err = noEntry.Map()
	require.NoError(t, err)
	require.NoError(t, noEntry.Attach(inv))
	assert.Empty(t, inv.calls)
}

func TestFromMemoryReadsMappedImage(t *testing.T) {
	b := petest.New()
	b.Export("Hello", b.Stub())
	mapped, _ := mapImage(t, b)

	img, err := FromMemory(mapped.Base(), testOpts...)
	require.NoError(t, err)
	defer img.Unload()
	assert.Equal(t, mapped.Optional.SizeOfImage, img.Optional.SizeOfImage)
	assert.False(t, img.Mapped())

	resident, err := FromResident(mapped.Base(), "resident.dll", testOpts...)
	require.NoError(t, err)
	assert.True(t, resident.Resident())
	assert.Equal(t, mapped.Base(), resident.Base())

	exports, err := resident.ResolveExports()
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, "Hello", exports[0].Name)

	inv := &fakeInvoker{ret: 1}
	require.NoError(t, resident.Attach(inv))
	require.NoError(t, resident.Unload())
	assert.Empty(t, inv.calls)

	_, err = FromMemory(0)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidFileFormat))
}

func TestViewBounds(t *testing.T) {
	v := NewView([]byte("AAAAAAAAAAAAAAAA"))
	_, err := v.U64(8)
	assert.NoError(t, err)
	_, err = v.U64(9)
	assert.True(t, errors.IsCode(err, errors.ErrOutOfBounds))
	_, err = v.Slice(0xFFFFFFF0, 0x20)
	assert.True(t, errors.IsCode(err, errors.ErrOutOfBounds))
	_, err = v.CString(4)
	assert.True(t, errors.IsCode(err, errors.ErrOutOfBounds), "unterminated string")
}
