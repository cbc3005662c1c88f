package apiset

import (
	"cmp"
	"strings"
	"unicode/utf16"

	"github.com/carved4/go-ldr/pkg/buffer"
	"github.com/carved4/go-ldr/pkg/pe"
)

type namespaceV6 struct {
	Version     uint32
	Size        uint32
	Flags       uint32
	Count       uint32
	EntryOffset uint32
	HashOffset  uint32
	HashFactor  uint32
}

type entryV6 struct {
	Flags        uint32
	NameOffset   uint32
	NameLength   uint32
	HashedLength uint32
	ValueOffset  uint32
	ValueCount   uint32
}

type hashEntryV6 struct {
	Hash  uint32
	Index uint32
}

type valueEntryV6 struct {
	Flags       uint32
	NameOffset  uint32
	NameLength  uint32
	ValueOffset uint32
	ValueLength uint32
}

const (
	sizeofEntryV6      = 24
	sizeofHashEntryV6  = 8
	sizeofValueEntryV6 = 20
)

// hashV6 hashes the lower-cased UTF-16 units of s with the namespace factor.
func hashV6(s string, factor uint32) uint32 {
	var h uint32
	for _, c := range utf16.Encode([]rune(strings.ToLower(s))) {
		h = h*factor + uint32(c)
	}
	return h
}

// resolveV6 hashes the name up to its last hyphen, finds the hash in the
// sorted hash table, checks the entry name against the hashed part and
// returns the first host value.
func resolveV6(v pe.View, name string) (string, error) {
	const op = "apiset.resolveV6"

	var ns namespaceV6
	if err := v.Struct(0, &ns); err != nil {
		return "", invalidName(op, err)
	}

	last := strings.LastIndexByte(name, '-')
	if last <= 0 {
		return "", invalidName(op, nil)
	}
	prefix := name[:last]
	key := hashV6(prefix, ns.HashFactor)

	var readErr error
	idx := buffer.BinarySearchWithRetriever[hashEntryV6](int(ns.Count),
		func(e hashEntryV6) int { return cmp.Compare(e.Hash, key) },
		func(i int) (hashEntryV6, bool) {
			var e hashEntryV6
			if readErr = v.Struct(ns.HashOffset+uint32(i)*sizeofHashEntryV6, &e); readErr != nil {
				return e, false
			}
			return e, true
		})
	if idx == buffer.NotFound {
		return "", invalidName(op, readErr)
	}

	var he hashEntryV6
	if err := v.Struct(ns.HashOffset+uint32(idx)*sizeofHashEntryV6, &he); err != nil {
		return "", invalidName(op, err)
	}
	if he.Index >= ns.Count {
		return "", invalidName(op, nil)
	}

	var entry entryV6
	if err := v.Struct(ns.EntryOffset+he.Index*sizeofEntryV6, &entry); err != nil {
		return "", invalidName(op, err)
	}

	hashed, err := wideString(v, entry.NameOffset, entry.HashedLength)
	if err != nil {
		return "", invalidName(op, err)
	}
	if len(hashed) != len(prefix) || compareFold(hashed, prefix) != 0 {
		return "", invalidName(op, nil)
	}

	if entry.ValueCount == 0 {
		return "", invalidName(op, nil)
	}

	var host valueEntryV6
	if err := v.Struct(entry.ValueOffset, &host); err != nil {
		return "", invalidName(op, err)
	}
	resolved, err := wideString(v, host.ValueOffset, host.ValueLength)
	if err != nil || resolved == "" {
		return "", invalidName(op, err)
	}
	return resolved, nil
}
