package apiset

import (
	"strings"

	"github.com/carved4/go-ldr/pkg/buffer"
	"github.com/carved4/go-ldr/pkg/pe"
)

// The v2 schema stores names without the "api-" prefix and ".dll" suffix.
type namespaceEntryV2 struct {
	NameOffset uint32
	NameLength uint32
	DataOffset uint32
}

type valueEntryV2 struct {
	NameOffset  uint32
	NameLength  uint32
	ValueOffset uint32
	ValueLength uint32
}

const (
	sizeofNamespaceHeaderV2 = 8
	sizeofNamespaceEntryV2  = 12
	sizeofValueEntryV2      = 16
)

// resolveV2 binary-searches the entry array by case-insensitive name and
// returns the entry's default host, the value with no importer name.
func resolveV2(v pe.View, name string) (string, error) {
	const op = "apiset.resolveV2"

	count, err := v.U32(4)
	if err != nil {
		return "", invalidName(op, err)
	}

	query := name
	if len(query) >= 4 && (strings.EqualFold(query[:4], "api-") || strings.EqualFold(query[:4], "ext-")) {
		query = query[4:]
	}
	suffix := strings.Index(strings.ToLower(query), ".dll")
	if suffix < 0 {
		return "", invalidName(op, nil)
	}
	query = query[:suffix]

	entryAt := func(i int) (namespaceEntryV2, string, error) {
		var e namespaceEntryV2
		if err := v.Struct(sizeofNamespaceHeaderV2+uint32(i)*sizeofNamespaceEntryV2, &e); err != nil {
			return e, "", err
		}
		s, err := wideString(v, e.NameOffset, e.NameLength)
		return e, s, err
	}

	idx := buffer.BinarySearchWithRetriever[string](int(count),
		func(entryName string) int { return compareFold(entryName, query) },
		func(i int) (string, bool) {
			_, s, err := entryAt(i)
			return s, err == nil
		})
	if idx == buffer.NotFound {
		return "", invalidName(op, nil)
	}

	entry, _, err := entryAt(idx)
	if err != nil {
		return "", invalidName(op, err)
	}

	values, err := v.U32(entry.DataOffset)
	if err != nil {
		return "", invalidName(op, err)
	}
	if values == 0 {
		return "", invalidName(op, nil)
	}

	var host valueEntryV2
	for i := uint32(0); i < values; i++ {
		var val valueEntryV2
		if err := v.Struct(entry.DataOffset+4+i*sizeofValueEntryV2, &val); err != nil {
			return "", invalidName(op, err)
		}
		if i == 0 || val.NameLength == 0 {
			host = val
		}
		if val.NameLength == 0 {
			break
		}
	}

	resolved, err := wideString(v, host.ValueOffset, host.ValueLength)
	if err != nil || resolved == "" {
		return "", invalidName(op, err)
	}
	return resolved, nil
}
