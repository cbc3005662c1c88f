package loader

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/carved4/go-ldr/pkg/buffer"
	"github.com/carved4/go-ldr/pkg/obf"
	"github.com/carved4/go-ldr/pkg/pe"
)

// maxForwarderDepth bounds chains of forwarded exports.
const maxForwarderDepth = 16

// Status is the load state of a Library.
type Status uint8

const (
	StatusUnloaded Status = iota
	StatusLoading
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

type exportEntry struct {
	// name is stored in the registry arena
	name      []byte
	ordinal   uint16
	address   uintptr
	forwarder string
}

// Library is a library known to a Registry. A library is registered with
// status Loading before its imports are resolved, so a dependency cycle
// sees the partially loaded record with its exports already in place.
type Library struct {
	path     string
	image    *pe.Image
	base     uintptr
	exports  []exportEntry
	status   Status
	err      error
	resident bool
	reg      *Registry
}

func (l *Library) Path() string {
	return l.path
}

func (l *Library) Name() string {
	return baseName(l.path)
}

func (l *Library) Base() uintptr {
	return l.base
}

func (l *Library) Status() Status {
	return l.status
}

// Err returns the error that failed the library, if any.
func (l *Library) Err() error {
	return l.err
}

// Resident reports whether the library was adopted from the OS loader.
func (l *Library) Resident() bool {
	return l.resident
}

func (l *Library) Image() *pe.Image {
	return l.image
}

// Exports returns a copy of the export table.
func (l *Library) Exports() []pe.Export {
	out := make([]pe.Export, len(l.exports))
	for i, e := range l.exports {
		out[i] = pe.Export{
			Name:      string(e.name),
			Ordinal:   e.ordinal,
			Address:   e.address,
			Forwarder: e.forwarder,
		}
		if e.address != 0 {
			out[i].RVA = uint32(e.address - l.base)
		}
	}
	return out
}

// ExportByName returns the address of the export named name. The
// comparison is bounded by the stored name length and is case-sensitive.
func (l *Library) ExportByName(name string) (uintptr, bool) {
	return l.exportByName(name, 0)
}

// ExportByOrdinal returns the address of the export with the given
// biased ordinal.
func (l *Library) ExportByOrdinal(ordinal uint16) (uintptr, bool) {
	return l.exportByOrdinal(ordinal, 0)
}

// ExportByHash returns the address of the first export whose name hashes
// to hash under obf.CustomHash.
func (l *Library) ExportByHash(hash uint32) (uintptr, bool) {
	return l.lookup(0, func(e *exportEntry) bool {
		return e.name != nil && obf.CustomHash(e.name) == hash
	})
}

func (l *Library) exportByName(name string, depth int) (uintptr, bool) {
	want := []byte(name)
	return l.lookup(depth, func(e *exportEntry) bool {
		return e.name != nil && len(e.name) == len(want) && bytes.Equal(e.name, want)
	})
}

func (l *Library) exportByOrdinal(ordinal uint16, depth int) (uintptr, bool) {
	return l.lookup(depth, func(e *exportEntry) bool { return e.ordinal == ordinal })
}

// lookup resolves the first export match accepts, in directory order.
func (l *Library) lookup(depth int, match func(*exportEntry) bool) (uintptr, bool) {
	idx := buffer.SearchWithRetriever(len(l.exports), 0,
		func(e *exportEntry) int {
			if match(e) {
				return 0
			}
			return 1
		},
		func(i int) (*exportEntry, bool) { return &l.exports[i], true })
	if idx == buffer.NotFound {
		return 0, false
	}
	return l.address(&l.exports[idx], depth)
}

func (l *Library) address(e *exportEntry, depth int) (uintptr, bool) {
	if e.forwarder == "" {
		return e.address, e.address != 0
	}
	if l.reg == nil || depth >= maxForwarderDepth {
		return 0, false
	}
	return l.reg.resolveForwarder(e.forwarder, depth+1)
}

// splitForwarder parses "LIBRARY.Symbol" or "LIBRARY.#ordinal".
func splitForwarder(fwd string) (lib, sym string, ordinal uint16, byOrdinal, ok bool) {
	dot := strings.LastIndexByte(fwd, '.')
	if dot <= 0 || dot == len(fwd)-1 {
		return "", "", 0, false, false
	}
	lib, sym = fwd[:dot], fwd[dot+1:]
	if strings.HasPrefix(sym, "#") {
		n, err := strconv.ParseUint(sym[1:], 10, 16)
		if err != nil {
			return "", "", 0, false, false
		}
		return lib, "", uint16(n), true, true
	}
	return lib, sym, 0, false, true
}
