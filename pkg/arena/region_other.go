//go:build !windows && !linux && !darwin && !freebsd

package arena

// heapRegion backs an arena with a single Go allocation on platforms without
// a reserve/commit split.
type heapRegion struct {
	mem []byte
}

func reserve(size int, _ Protection) (region, error) {
	return &heapRegion{mem: make([]byte, size)}, nil
}

func (r *heapRegion) bytes() []byte { return r.mem }

func (r *heapRegion) commit(int, int) error { return nil }

func (r *heapRegion) free() error {
	r.mem = nil
	return nil
}
