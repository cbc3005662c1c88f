// Package apisettest builds synthetic API-Set namespaces for tests.
package apisettest

import (
	"cmp"
	"encoding/binary"
	"strings"
	"unicode/utf16"

	"github.com/carved4/go-ldr/pkg/buffer"
)

// HashFactor is the hash multiplier written into v6 namespaces.
const HashFactor = 0x1F

const (
	headerV6      = 28
	entryV6       = 24
	hashEntryV6   = 8
	valueEntryV6  = 20
	headerV2      = 8
	entryV2       = 12
	valueEntryV2  = 16
	versionOffset = 0
)

// Entry is one v6 namespace entry. Hashed is the part of Name the hash
// covers. A non-zero Hash replaces the computed one.
type Entry struct {
	Name   string
	Hashed string
	Hosts  []string
	Hash   uint32
}

// V2Host maps an importing library to a host; an empty Importer is the default.
type V2Host struct {
	Importer string
	Host     string
}

type V2Entry struct {
	Name  string
	Hosts []V2Host
}

// Hash is the v6 namespace hash of s.
func Hash(s string, factor uint32) uint32 {
	var h uint32
	for _, c := range utf16.Encode([]rune(strings.ToLower(s))) {
		h = h*factor + uint32(c)
	}
	return h
}

type blob []byte

func (b *blob) str(s string) (uint32, uint32) {
	off := uint32(len(*b))
	for _, u := range utf16.Encode([]rune(s)) {
		*b = binary.LittleEndian.AppendUint16(*b, u)
	}
	return off, uint32(len(*b)) - off
}

func (b blob) put(off int, vals ...uint32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[off+4*i:], v)
	}
}

// V6 lays out a schema 6 namespace: header, entries, sorted hash table,
// value entries, then the UTF-16 strings.
func V6(entries ...Entry) []byte {
	n := len(entries)
	entryOff := headerV6
	hashOff := entryOff + n*entryV6
	valueOff := hashOff + n*hashEntryV6

	values := 0
	for _, e := range entries {
		values += len(e.Hosts)
	}
	b := make(blob, valueOff+values*valueEntryV6)

	type hashed struct{ hash, index uint32 }
	hashes := make([]hashed, 0, n)
	next := valueOff

	for i, e := range entries {
		nameOff, nameLen := b.str(e.Name)
		hashedLen := uint32(2 * len(utf16.Encode([]rune(e.Hashed))))
		b.put(entryOff+i*entryV6, 0, nameOff, nameLen, hashedLen, uint32(next), uint32(len(e.Hosts)))

		for _, host := range e.Hosts {
			hostOff, hostLen := b.str(host)
			b.put(next, 0, 0, 0, hostOff, hostLen)
			next += valueEntryV6
		}

		h := e.Hash
		if h == 0 {
			h = Hash(e.Hashed, HashFactor)
		}
		hashes = append(hashes, hashed{h, uint32(i)})
	}

	buffer.Sort(hashes, func(a, b hashed) int { return cmp.Compare(a.hash, b.hash) })
	for i, h := range hashes {
		b.put(hashOff+i*hashEntryV6, h.hash, h.index)
	}

	b.put(versionOffset, 6, uint32(len(b)), 0, uint32(n), uint32(entryOff), uint32(hashOff), HashFactor)
	return b
}

// V2 lays out a schema 2 namespace with entries sorted by upper-cased name.
// Names are stored without the "api-" prefix and ".dll" suffix.
func V2(entries ...V2Entry) []byte {
	sorted := append([]V2Entry(nil), entries...)
	buffer.Sort(sorted, func(a, b V2Entry) int {
		return strings.Compare(strings.ToUpper(a.Name), strings.ToUpper(b.Name))
	})

	n := len(sorted)
	b := make(blob, headerV2+n*entryV2)
	b.put(versionOffset, 2, uint32(n))

	for i, e := range sorted {
		nameOff, nameLen := b.str(e.Name)

		data := len(b)
		b = append(b, make([]byte, 4+len(e.Hosts)*valueEntryV2)...)
		b.put(data, uint32(len(e.Hosts)))
		for j, h := range e.Hosts {
			var impOff, impLen uint32
			if h.Importer != "" {
				impOff, impLen = b.str(h.Importer)
			}
			hostOff, hostLen := b.str(h.Host)
			b.put(data+4+j*valueEntryV2, impOff, impLen, hostOff, hostLen)
		}

		b.put(headerV2+i*entryV2, nameOff, nameLen, uint32(data))
	}
	return b
}
