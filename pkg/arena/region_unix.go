//go:build linux || darwin || freebsd

package arena

import "golang.org/x/sys/unix"

type mmapRegion struct {
	mem  []byte
	prot int
}

func pageProtection(p Protection) int {
	if p == ExecuteReadWrite {
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	}
	return unix.PROT_READ | unix.PROT_WRITE
}

// reserve maps inaccessible pages; commit makes a prefix of them usable.
func reserve(size int, prot Protection) (region, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &mmapRegion{mem: mem, prot: pageProtection(prot)}, nil
}

func (r *mmapRegion) bytes() []byte {
	return r.mem
}

func (r *mmapRegion) commit(off, n int) error {
	return unix.Mprotect(r.mem[off:off+n], r.prot)
}

func (r *mmapRegion) free() error {
	return unix.Munmap(r.mem)
}
