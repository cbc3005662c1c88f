package pe

import (
	"io"
	"os"

	binject "github.com/Binject/debug/pe"

	"github.com/carved4/go-ldr/pkg/errors"
)

// Report is a static description of an image on disk. Nothing is mapped to
// produce it.
type Report struct {
	Path     string
	Machine  uint16
	DLL      bool
	Sections []SectionInfo
	Imports  []string
	Exports  []ExportInfo
}

type SectionInfo struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
}

type ExportInfo struct {
	Name    string
	Ordinal uint32
	RVA     uint32
}

// Inspect parses the image at path with the debug/pe reader.
func Inspect(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithPath(errors.Wrap(errors.ErrFileOpen, "pe.Inspect", err), path)
	}
	defer f.Close()

	r, err := InspectReader(f)
	if err != nil {
		return nil, errors.WithPath(err, path)
	}
	r.Path = path
	return r, nil
}

// InspectReader is Inspect over any random-access reader.
func InspectReader(r io.ReaderAt) (*Report, error) {
	f, err := binject.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidFileFormat, "pe.Inspect", err)
	}
	defer f.Close()
	return report(f)
}

func report(f *binject.File) (*Report, error) {
	const op = "pe.Inspect"

	r := &Report{
		Machine: f.FileHeader.Machine,
		DLL:     f.FileHeader.Characteristics&FileDLL != 0,
	}
	if r.Machine != MachineAMD64 {
		return nil, errors.New(errors.ErrUnhandledMachine, op)
	}

	for _, s := range f.Sections {
		r.Sections = append(r.Sections, SectionInfo{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
		})
	}

	dirs, _, _, err := f.ImportDirectoryTable()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidFileFormat, op, err)
	}
	for _, d := range dirs {
		r.Imports = append(r.Imports, d.DllName)
	}

	exports, err := f.Exports()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidFileFormat, op, err)
	}
	for _, e := range exports {
		r.Exports = append(r.Exports, ExportInfo{
			Name:    e.Name,
			Ordinal: e.Ordinal,
			RVA:     e.VirtualAddress,
		})
	}

	return r, nil
}
