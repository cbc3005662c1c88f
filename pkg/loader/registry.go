// Package loader keeps the set of libraries loaded by this process's own
// module loader. Libraries are found by name through the search path and
// API-Set indirection, mapped once per path and torn down together.
//
// A Registry is not safe for concurrent use. Callers that share one across
// goroutines must serialize Init, the Load calls and Release themselves.
package loader

import (
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/apiset"
	"github.com/carved4/go-ldr/pkg/arena"
	"github.com/carved4/go-ldr/pkg/buffer"
	"github.com/carved4/go-ldr/pkg/errors"
	"github.com/carved4/go-ldr/pkg/pe"
	"github.com/carved4/go-ldr/pkg/peb"
)

type Registry struct {
	cfg      config
	log      *zap.Logger
	resolver *apiset.Resolver

	arena *arena.Arena
	// libs is in registration order, teardown in completion order
	libs        []*Library
	teardown    []*Library
	initialized bool
}

// New returns an uninitialized registry.
func New(opts ...Option) *Registry {
	cfg := defaultConfig()
	for _, fn := range opts {
		fn(&cfg)
	}
	cfg.finish()

	return &Registry{
		cfg:      cfg,
		log:      cfg.logger,
		resolver: apiset.NewResolver(cfg.locator),
	}
}

// Init allocates the registry arena. Calling it again is a no-op.
func (r *Registry) Init() error {
	if r.initialized {
		return nil
	}
	a, err := arena.New(r.cfg.reservation, arena.ReadWrite)
	if err != nil {
		return err
	}
	r.arena = a
	r.libs = nil
	r.teardown = nil
	r.initialized = true
	return nil
}

func (r *Registry) Initialized() bool {
	return r.initialized
}

// Libraries returns the registered libraries in registration order.
func (r *Registry) Libraries() []*Library {
	return append([]*Library(nil), r.libs...)
}

func (r *Registry) ready(op string) error {
	if !r.initialized {
		return errors.New(errors.ErrNotInitialized, op)
	}
	return nil
}

// LoadByName loads a library by bare name. API-Set names are resolved to
// their host first and fail the load if they do not resolve. Other names
// get a ".DLL" suffix when they lack one and are looked up in the search
// directories.
func (r *Registry) LoadByName(name string) (*Library, error) {
	const op = "loader.LoadByName"

	if err := r.ready(op); err != nil {
		return nil, err
	}

	if apiset.IsApiSetReference(name) {
		host, err := r.resolver.Resolve(withDLLSuffix(name))
		if err != nil {
			r.log.Error("api set resolution failed", zap.String("name", name), zap.Stringer("code", errors.CodeOf(err)))
			return nil, errors.WithPath(errors.Wrap(errors.ErrLoadFailed, op, err), name)
		}
		if apiset.IsApiSetReference(host) {
			return nil, errors.WithPath(errors.New(errors.ErrLoadFailed, op), host)
		}
		return r.LoadByName(host)
	}

	name = withDLLSuffix(name)

	if r.cfg.preferResident {
		if lib, ok := r.adoptResident(name); ok {
			return lib, nil
		}
	}

	path, err := r.search(name)
	if err != nil {
		r.log.Error("library not found", zap.String("name", name))
		return nil, err
	}
	return r.LoadByPath(path)
}

// LoadByPath loads the image at path, or returns the library already
// registered under it. A library still loading is returned as is; one that
// failed returns its original error.
func (r *Registry) LoadByPath(path string) (*Library, error) {
	const op = "loader.LoadByPath"

	if err := r.ready(op); err != nil {
		return nil, err
	}

	if lib := r.find(path); lib != nil {
		if lib.status == StatusFailed {
			return nil, lib.err
		}
		return lib, nil
	}

	img, err := pe.FromFile(path, r.cfg.imageOpts...)
	if err != nil {
		r.logFailure(path, err)
		return nil, err
	}
	base, err := img.Map()
	if err != nil {
		_ = img.Unload()
		r.logFailure(path, err)
		return nil, err
	}

	lib := &Library{path: path, image: img, base: base, status: StatusLoading, reg: r}
	if err := r.collectExports(lib); err != nil {
		_ = img.Unload()
		r.logFailure(path, err)
		return nil, err
	}
	r.libs = append(r.libs, lib)

	if err := img.ResolveImports(r); err != nil {
		return nil, r.fail(lib, err)
	}
	if err := img.Attach(r.cfg.invoker); err != nil {
		return nil, r.fail(lib, err)
	}

	lib.status = StatusLoaded
	r.teardown = append(r.teardown, lib)
	r.log.Info("loaded library", zap.String("path", path), zap.Uintptr("base", base))
	return lib, nil
}

// Import satisfies pe.Importer by loading the named dependency.
func (r *Registry) Import(name string) (pe.ExportSource, error) {
	lib, err := r.LoadByName(decodeName(name))
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// Find returns the registered library whose path matches path.
func (r *Registry) Find(path string) (*Library, bool) {
	lib := r.find(path)
	return lib, lib != nil
}

// find matches the first len(lib.path) bytes of path, ignoring case.
func (r *Registry) find(path string) *Library {
	idx := buffer.Search(r.libs, 0, func(lib *Library) int {
		if len(path) >= len(lib.path) && strings.EqualFold(path[:len(lib.path)], lib.path) {
			return 0
		}
		return 1
	})
	if idx == buffer.NotFound {
		return nil
	}
	return r.libs[idx]
}

func (r *Registry) fail(lib *Library, err error) error {
	err = errors.WithPath(err, lib.path)
	lib.status = StatusFailed
	lib.err = err
	r.teardown = append(r.teardown, lib)
	r.logFailure(lib.path, err)
	return err
}

func (r *Registry) logFailure(path string, err error) {
	r.log.Error("failed to load library",
		zap.String("path", path),
		zap.Stringer("code", errors.CodeOf(err)),
		zap.Error(err))
}

// collectExports copies the export table into the registry, with names
// held in the registry arena.
func (r *Registry) collectExports(lib *Library) error {
	exports, err := lib.image.ResolveExports()
	if err != nil {
		return err
	}
	lib.exports = make([]exportEntry, 0, len(exports))
	for _, e := range exports {
		entry := exportEntry{ordinal: e.Ordinal, address: e.Address, forwarder: e.Forwarder}
		if e.Name != "" {
			name, err := r.arena.Alloc(len(e.Name))
			if err != nil {
				return err
			}
			copy(name, e.Name)
			entry.name = name
		}
		lib.exports = append(lib.exports, entry)
	}
	return nil
}

// adoptResident registers a module the OS loader has already mapped.
func (r *Registry) adoptResident(name string) (*Library, bool) {
	mod, err := peb.FindModule(name)
	if err != nil {
		return nil, false
	}
	if lib := r.find(mod.Path); lib != nil && lib.status != StatusFailed {
		return lib, true
	}

	img, err := pe.FromResident(mod.Base, mod.Path, r.cfg.imageOpts...)
	if err != nil {
		r.log.Warn("resident module not adopted", zap.String("name", name), zap.Error(err))
		return nil, false
	}
	lib := &Library{path: mod.Path, image: img, base: mod.Base, status: StatusLoaded, resident: true, reg: r}
	if err := r.collectExports(lib); err != nil {
		_ = img.Unload()
		r.log.Warn("resident module not adopted", zap.String("name", name), zap.Error(err))
		return nil, false
	}
	r.libs = append(r.libs, lib)
	r.teardown = append(r.teardown, lib)
	r.log.Info("adopted resident library", zap.String("path", mod.Path), zap.Uintptr("base", mod.Base))
	return lib, true
}

func (r *Registry) resolveForwarder(fwd string, depth int) (uintptr, bool) {
	libName, sym, ordinal, byOrdinal, ok := splitForwarder(decodeName(fwd))
	if !ok {
		return 0, false
	}
	lib, err := r.LoadByName(libName)
	if err != nil {
		return 0, false
	}
	if byOrdinal {
		return lib.exportByOrdinal(ordinal, depth)
	}
	return lib.exportByName(sym, depth)
}

// Release unloads every library, most recently completed first, then frees
// the registry arena and returns the registry to the uninitialized state.
func (r *Registry) Release() error {
	if !r.initialized {
		return nil
	}

	var errs error
	for len(r.teardown) > 0 {
		lib := r.teardown[len(r.teardown)-1]
		r.teardown = r.teardown[:len(r.teardown)-1]
		errs = multierr.Append(errs, r.unload(lib))
	}
	for i := len(r.libs) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, r.unload(r.libs[i]))
	}

	errs = multierr.Append(errs, r.arena.Release())
	r.arena = nil
	r.libs = nil
	r.initialized = false
	return errs
}

func (r *Registry) unload(lib *Library) error {
	if lib.status == StatusUnloaded {
		return nil
	}
	lib.status = StatusUnloaded
	lib.exports = nil
	r.log.Debug("unloading library", zap.String("path", lib.path))
	return lib.image.Unload()
}
