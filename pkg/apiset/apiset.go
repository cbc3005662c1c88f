// Package apiset resolves API-Set library names, such as
// api-ms-win-core-file-l1-1-0.dll, to the host library that implements them.
package apiset

import (
	"strings"

	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/errors"
	"github.com/carved4/go-ldr/pkg/pe"
)

// namespace schema versions
const (
	SchemaV2 = 2
	SchemaV3 = 3
	SchemaV4 = 4
	SchemaV6 = 6
)

// IsApiSetReference reports whether name contains "api-" or "ext-". This is a
// coarse syntactic check, not a validated prefix match.
func IsApiSetReference(name string) bool {
	return strings.Contains(name, "api-") || strings.Contains(name, "ext-")
}

// Locator finds the API-Set namespace of the current process.
type Locator interface {
	Namespace() ([]byte, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func() ([]byte, error)

func (f LocatorFunc) Namespace() ([]byte, error) {
	return f()
}

// Static returns a Locator that always yields ns.
func Static(ns []byte) Locator {
	return LocatorFunc(func() ([]byte, error) { return ns, nil })
}

type Resolver struct {
	loc Locator
}

// NewResolver returns a resolver over the namespace found by loc. A nil loc
// uses the process environment block.
func NewResolver(loc Locator) *Resolver {
	if loc == nil {
		loc = ProcessLocator()
	}
	return &Resolver{loc: loc}
}

// Resolve returns the host library for name.
func (r *Resolver) Resolve(name string) (string, error) {
	if !IsApiSetReference(name) {
		return "", errors.New(errors.ErrInvalidName, "apiset.Resolve")
	}
	ns, err := r.loc.Namespace()
	if err != nil {
		return "", err
	}
	host, err := ResolveIn(ns, name)
	if err != nil {
		Logger().Debug("api set resolution failed", zap.String("name", name), zap.Error(err))
		return "", err
	}
	Logger().Debug("api set resolved", zap.String("name", name), zap.String("host", host))
	return host, nil
}

// Resolve resolves name against the current process's namespace.
func Resolve(name string) (string, error) {
	return NewResolver(nil).Resolve(name)
}

// ResolveIn resolves name against an explicit namespace, dispatching on its
// leading version field.
func ResolveIn(ns []byte, name string) (string, error) {
	const op = "apiset.Resolve"

	if !IsApiSetReference(name) {
		return "", errors.New(errors.ErrInvalidName, op)
	}

	v := pe.NewView(ns)
	version, err := v.U32(0)
	if err != nil {
		return "", errors.Wrap(errors.ErrSetMapNotFound, op, err)
	}

	switch version {
	case SchemaV2:
		return resolveV2(v, name)
	case SchemaV3, SchemaV4:
		return "", errors.New(errors.ErrUnsupportedSchema, op)
	case SchemaV6:
		return resolveV6(v, name)
	}
	return "", errors.New(errors.ErrUnhandledVersion, op)
}

// Version returns the schema version of ns.
func Version(ns []byte) (uint32, error) {
	return pe.NewView(ns).U32(0)
}

func invalidName(op string, cause error) error {
	if cause == nil {
		return errors.New(errors.ErrInvalidName, op)
	}
	return errors.Wrap(errors.ErrInvalidName, op, cause)
}
