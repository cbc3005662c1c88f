// Package peb reads loader state out of the current process environment
// block: the list of modules the OS loader has mapped and the API-Set
// namespace it was handed at process start.
package peb

import (
	"github.com/carved4/go-ldr/pkg/errors"
	"github.com/carved4/go-ldr/pkg/obf"
)

// Module is one entry of the OS loader's in-load-order module list.
type Module struct {
	Name string
	Path string
	Base uintptr
	Size uintptr
}

// FindModule returns the resident module whose base name matches name,
// ignoring case.
func FindModule(name string) (Module, error) {
	mods, err := Modules()
	if err != nil {
		return Module{}, err
	}
	if m, ok := findByHash(mods, obf.GetHash(name)); ok {
		return m, nil
	}
	return Module{}, errors.New(errors.ErrNotFound, "peb.FindModule")
}

func findByHash(mods []Module, hash uint32) (Module, bool) {
	for _, m := range mods {
		if obf.GetHash(m.Name) == hash {
			return m, true
		}
	}
	return Module{}, false
}
