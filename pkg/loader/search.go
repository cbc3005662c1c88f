package loader

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/carved4/go-ldr/pkg/errors"
)

// withDLLSuffix appends ".DLL" to names without a ".dll" extension.
func withDLLSuffix(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".dll") {
		return name
	}
	return name + ".DLL"
}

// decodeName converts an ANSI name from an import descriptor or forwarder
// string to UTF-8.
func decodeName(name string) string {
	s, err := charmap.Windows1252.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return s
}

// baseName returns the last element of a Windows or slash-separated path.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// search returns the first regular file named name in the search directories.
func (r *Registry) search(name string) (string, error) {
	for _, dir := range r.cfg.searchPaths {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", errors.WithPath(errors.New(errors.ErrNotFound, "loader.search"), name)
}
