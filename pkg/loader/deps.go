package loader

import (
	"strings"

	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/apiset"
	"github.com/carved4/go-ldr/pkg/pe"
)

// Dependency is one library in an import closure.
type Dependency struct {
	// Name is the name as imported, before API-Set resolution.
	Name string
	// Path is empty when the library was not found on the search path.
	Path    string
	Imports []string
}

// Dependencies lists the import closure of the named library breadth-first,
// starting with the library itself. It reads the files statically and maps
// nothing, so it works without Init.
func (r *Registry) Dependencies(name string) ([]Dependency, error) {
	first, err := r.search(withDLLSuffix(name))
	if err != nil {
		return nil, err
	}

	var out []Dependency
	seen := map[string]bool{strings.ToLower(baseName(first)): true}
	queue := []Dependency{{Name: name, Path: first}}

	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]

		if dep.Path != "" {
			report, err := pe.Inspect(dep.Path)
			if err != nil {
				return nil, err
			}
			dep.Imports = report.Imports
		}
		out = append(out, dep)

		for _, imp := range dep.Imports {
			file := r.hostName(imp)
			key := strings.ToLower(file)
			if seen[key] {
				continue
			}
			seen[key] = true

			next := Dependency{Name: imp}
			if path, err := r.search(file); err == nil {
				next.Path = path
			}
			queue = append(queue, next)
		}
	}
	return out, nil
}

// hostName maps an imported name to the file that would be loaded for it.
func (r *Registry) hostName(name string) string {
	name = decodeName(name)
	if apiset.IsApiSetReference(name) {
		host, err := r.resolver.Resolve(withDLLSuffix(name))
		if err != nil {
			r.log.Debug("api set unresolved", zap.String("name", name), zap.Error(err))
			return withDLLSuffix(name)
		}
		return withDLLSuffix(host)
	}
	return withDLLSuffix(name)
}
