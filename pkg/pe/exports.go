package pe

import (
	"github.com/carved4/go-ldr/pkg/errors"
)

// Export is one entry of a mapped image's export table.
type Export struct {
	Name    string
	Ordinal uint16
	RVA     uint32
	Address uintptr
	// Forwarder is set instead of Address when the export forwards to
	// another library, as "LIBRARY.Symbol" or "LIBRARY.#ordinal".
	Forwarder string
}

// Forwarded reports whether the export points into another library.
func (e *Export) Forwarded() bool {
	return e.Forwarder != ""
}

// ResolveExports walks the export directory of the mapped image. Named exports
// come first in name-table order, followed by ordinal-only exports. An image
// without an export directory has no exports.
func (img *Image) ResolveExports() ([]Export, error) {
	const op = "pe.ResolveExports"

	v, err := img.View()
	if err != nil {
		return nil, err
	}

	dir := img.Directory(DirectoryExport)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}

	var ed ExportDirectory
	if err := v.Struct(dir.VirtualAddress, &ed); err != nil {
		return nil, err
	}
	if !v.ContainsTable(ed.AddressOfFunctions, ed.NumberOfFunctions, 4) ||
		!v.ContainsTable(ed.AddressOfNames, ed.NumberOfNames, 4) ||
		!v.ContainsTable(ed.AddressOfNameOrdinals, ed.NumberOfNames, 2) {
		return nil, errors.New(errors.ErrOutOfBounds, op)
	}

	// counts are bounded by the view from here on
	base := img.Base()
	named := make(map[uint32]bool)
	var exports []Export
	dirEnd := uint64(dir.VirtualAddress) + uint64(dir.Size)

	resolve := func(index uint32) (Export, error) {
		rva, err := v.U32(ed.AddressOfFunctions + index*4)
		if err != nil {
			return Export{}, err
		}
		exp := Export{Ordinal: uint16(ed.Base + index), RVA: rva}
		if rva >= dir.VirtualAddress && uint64(rva) < dirEnd {
			if exp.Forwarder, err = v.CString(rva); err != nil {
				return Export{}, err
			}
			return exp, nil
		}
		exp.Address = base + uintptr(rva)
		return exp, nil
	}

	for i := uint32(0); i < ed.NumberOfNames; i++ {
		nameRVA, err := v.U32(ed.AddressOfNames + i*4)
		if err != nil {
			return nil, err
		}
		index, err := v.U16(ed.AddressOfNameOrdinals + i*2)
		if err != nil {
			return nil, err
		}
		if uint32(index) >= ed.NumberOfFunctions {
			return nil, errors.New(errors.ErrOutOfBounds, op)
		}

		exp, err := resolve(uint32(index))
		if err != nil {
			return nil, err
		}
		if exp.Name, err = v.CString(nameRVA); err != nil {
			return nil, err
		}
		named[uint32(index)] = true
		exports = append(exports, exp)
	}

	for i := uint32(0); i < ed.NumberOfFunctions; i++ {
		if named[i] {
			continue
		}
		exp, err := resolve(i)
		if err != nil {
			return nil, err
		}
		if exp.RVA == 0 {
			continue
		}
		exports = append(exports, exp)
	}

	return exports, nil
}
