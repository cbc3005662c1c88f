package pe

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/errors"
)

// ExportSource answers export lookups for an imported library.
type ExportSource interface {
	ExportByName(name string) (uintptr, bool)
	ExportByOrdinal(ordinal uint16) (uintptr, bool)
}

// Importer loads an imported library by the name recorded in an import descriptor.
type Importer interface {
	Import(name string) (ExportSource, error)
}

// ImportedLibrary names a library and the symbols imported from it.
type ImportedLibrary struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

// ResolveImports loads every library named in the import directory through
// imp and writes the resolved addresses into the import address table. Any
// unresolved symbol fails the whole image.
func (img *Image) ResolveImports(imp Importer) error {
	const op = "pe.ResolveImports"

	v, err := img.View()
	if err != nil {
		return err
	}

	return img.walkImports(v, func(lib string) (ExportSource, error) {
		src, err := imp.Import(lib)
		if err != nil {
			return nil, errors.Wrap(errors.ErrImportResolution, op, err)
		}
		return src, nil
	}, func(lib string, src ExportSource, sym string, thunk uint64, slot uint32) error {
		var addr uintptr
		var ok bool
		if thunk&ordinalFlag64 != 0 {
			addr, ok = src.ExportByOrdinal(uint16(thunk & ordinalMask))
		} else {
			addr, ok = src.ExportByName(sym)
		}
		if !ok {
			return errors.Wrap(errors.ErrImportResolution, op, fmt.Errorf("%s!%s unresolved", lib, sym))
		}

		Logger().Debug("resolved import",
			zap.String("image", img.Path),
			zap.String("library", lib),
			zap.String("symbol", sym),
			zap.Uintptr("address", addr))

		return v.PutU64(slot, uint64(addr))
	})
}

// Imports lists the import directory of the mapped image without resolving anything.
func (img *Image) Imports() ([]ImportedLibrary, error) {
	v, err := img.View()
	if err != nil {
		return nil, err
	}

	var libs []ImportedLibrary
	err = img.walkImports(v, func(lib string) (ExportSource, error) {
		libs = append(libs, ImportedLibrary{Name: lib})
		return nil, nil
	}, func(_ string, _ ExportSource, sym string, _ uint64, _ uint32) error {
		last := &libs[len(libs)-1]
		last.Symbols = append(last.Symbols, sym)
		return nil
	})
	return libs, err
}

type (
	libraryFunc func(lib string) (ExportSource, error)
	thunkFunc   func(lib string, src ExportSource, sym string, thunk uint64, slot uint32) error
)

// walkImports visits each descriptor up to the all-zero sentinel and each
// thunk up to the zero terminator. Images without an original thunk array
// are walked through the import address table itself.
func (img *Image) walkImports(v View, onLibrary libraryFunc, onThunk thunkFunc) error {
	dir := img.Directory(DirectoryImport)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}

	for rva := dir.VirtualAddress; ; rva += uint32(sizeofImportDescriptor) {
		var desc ImportDescriptor
		if err := v.Struct(rva, &desc); err != nil {
			return err
		}
		if desc.isZero() {
			return nil
		}

		lib, err := v.CString(desc.Name)
		if err != nil {
			return err
		}
		src, err := onLibrary(lib)
		if err != nil {
			return err
		}

		lookup := desc.OriginalFirstThunk
		if lookup == 0 {
			lookup = desc.FirstThunk
		}

		for i := uint32(0); ; i++ {
			thunk, err := v.U64(lookup + i*8)
			if err != nil {
				return err
			}
			if thunk == 0 {
				break
			}

			var sym string
			if thunk&ordinalFlag64 != 0 {
				sym = fmt.Sprintf("#%d", thunk&ordinalMask)
			} else if hint := uint32(thunk); !v.Contains(hint, 2) {
				return errors.New(errors.ErrOutOfBounds, "pe.walkImports")
			} else if sym, err = v.CString(hint + 2); err != nil {
				return err
			}

			if err := onThunk(lib, src, sym, thunk, desc.FirstThunk+i*8); err != nil {
				return err
			}
		}
	}
}
