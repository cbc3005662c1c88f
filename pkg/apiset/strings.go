package apiset

import (
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/carved4/go-ldr/pkg/pe"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// wideString decodes n bytes of UTF-16LE at off.
func wideString(v pe.View, off, n uint32) (string, error) {
	b, err := v.Slice(off, n)
	if err != nil {
		return "", err
	}
	s, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// compareFold orders a and b ignoring case, the way the namespace is sorted.
func compareFold(a, b string) int {
	return strings.Compare(strings.ToUpper(a), strings.ToUpper(b))
}
