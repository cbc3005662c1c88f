// Package arena implements a single-reservation bump allocator.
//
// An Arena reserves address space up front and commits it geometrically as the
// cursor advances. Individual blocks are never freed; everything goes away at
// Release, after the registered cleanup tasks have run in insertion order.
//
// Bytes handed out by an Arena live outside the Go heap. They must not hold Go
// pointers and must not be used after Release.
package arena

import (
	"os"
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/carved4/go-ldr/pkg/errors"
)

// DefaultReservation is the address space reserved by New when reservation is 0.
const DefaultReservation = 1024 * 1024 * 1024

const growthFactor = 2

// Protection selects the page protection of committed memory.
type Protection uint8

const (
	ReadWrite Protection = iota
	ExecuteReadWrite
)

// region is the OS backing of an arena.
type region interface {
	bytes() []byte
	commit(off, n int) error
	free() error
}

type cleanupTask struct {
	fn  func(any)
	arg any
}

type Arena struct {
	mem       []byte
	reg       region
	reserved  int
	committed int
	next      int
	prot      Protection
	tasks     []cleanupTask
	released  bool
}

// Align rounds a up to a multiple of b, which must be a power of two.
func Align[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

// PageSize is the commit granularity.
var PageSize = os.Getpagesize()

// New reserves reservation bytes of address space and commits nothing.
func New(reservation int, prot Protection) (*Arena, error) {
	if reservation <= 0 {
		reservation = DefaultReservation
	}
	reservation = Align(reservation, PageSize)

	reg, err := reserve(reservation, prot)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAllocation, "arena.New", err)
	}

	return &Arena{
		mem:      reg.bytes(),
		reg:      reg,
		reserved: reservation,
		prot:     prot,
	}, nil
}

// Alloc returns n zeroed bytes. It fails if the request would exceed the reservation.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if a.released {
		return nil, errors.New(errors.ErrReleased, "arena.Alloc")
	}
	if n < 0 || a.next+n > a.reserved {
		return nil, errors.New(errors.ErrAllocation, "arena.Alloc")
	}
	if err := a.ensure(a.next + n); err != nil {
		return nil, err
	}

	b := a.mem[a.next : a.next+n : a.next+n]
	a.next += n
	return b, nil
}

// AllocAligned pads the cursor to align before allocating n bytes.
func (a *Arena) AllocAligned(n, align int) ([]byte, error) {
	if a.released {
		return nil, errors.New(errors.ErrReleased, "arena.AllocAligned")
	}
	start := Align(a.next, align)
	if start > a.reserved {
		return nil, errors.New(errors.ErrAllocation, "arena.AllocAligned")
	}
	pad := start - a.next
	if _, err := a.Alloc(pad); err != nil {
		return nil, err
	}
	return a.Alloc(n)
}

// ensure commits enough memory for the cursor to reach end.
func (a *Arena) ensure(end int) error {
	if end <= a.committed {
		return nil
	}

	required := max(end, a.committed*growthFactor)
	required = min(Align(required, PageSize), a.reserved)

	if err := a.reg.commit(a.committed, required-a.committed); err != nil {
		return errors.Wrap(errors.ErrAllocation, "arena.commit", err)
	}
	a.committed = required
	return nil
}

// Realloc grows old to newSize bytes. Shrinking returns old unchanged. The most
// recent block is extended in place; any other block is copied to a fresh one.
func (a *Arena) Realloc(old []byte, newSize int) ([]byte, error) {
	if newSize <= len(old) {
		return old, nil
	}
	if len(old) == 0 {
		return a.Alloc(newSize)
	}
	if a.released {
		return nil, errors.New(errors.ErrReleased, "arena.Realloc")
	}

	if off, ok := a.offsetOf(old); ok && off+len(old) == a.next {
		if off+newSize > a.reserved {
			return nil, errors.New(errors.ErrAllocation, "arena.Realloc")
		}
		if err := a.ensure(off + newSize); err != nil {
			return nil, err
		}
		a.next = off + newSize
		return a.mem[off:a.next:a.next], nil
	}

	b, err := a.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	copy(b, old)
	return b, nil
}

func (a *Arena) offsetOf(b []byte) (int, bool) {
	if len(b) == 0 || len(a.mem) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.mem)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < base || p >= base+uintptr(a.reserved) {
		return 0, false
	}
	return int(p - base), true
}

// Owns reports whether b was allocated from this arena.
func (a *Arena) Owns(b []byte) bool {
	_, ok := a.offsetOf(b)
	return ok
}

// AddCleanupTask appends fn to the cleanup chain. Tasks run in insertion order at Release.
func (a *Arena) AddCleanupTask(fn func(any), arg any) error {
	if a.released {
		return errors.New(errors.ErrReleased, "arena.AddCleanupTask")
	}
	a.tasks = append(a.tasks, cleanupTask{fn: fn, arg: arg})
	return nil
}

// Release runs every cleanup task once, in insertion order, then frees the
// reservation. Releasing twice is a no-op.
func (a *Arena) Release() error {
	if a == nil || a.released {
		return nil
	}
	a.released = true

	tasks := a.tasks
	a.tasks = nil
	for _, t := range tasks {
		t.fn(t.arg)
	}

	a.mem = nil
	a.committed, a.next = 0, 0
	if err := a.reg.free(); err != nil {
		return errors.Wrap(errors.ErrAllocation, "arena.Release", err)
	}
	return nil
}

func (a *Arena) Reserved() int { return a.reserved }

func (a *Arena) Committed() int { return a.committed }

func (a *Arena) Next() int { return a.next }

func (a *Arena) Released() bool { return a.released }

func (a *Arena) Protection() Protection { return a.prot }
