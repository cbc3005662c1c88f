package loader

import (
	"go.uber.org/zap"

	"github.com/carved4/go-ldr/pkg/apiset"
	"github.com/carved4/go-ldr/pkg/pe"
)

type config struct {
	searchPaths    []string
	invoker        pe.Invoker
	locator        apiset.Locator
	reservation    int
	imageOpts      []pe.Option
	preferResident bool
	logger         *zap.Logger
}

// Option configures a Registry.
type Option func(*config)

// WithSearchPaths replaces the directories LoadByName searches, in order.
func WithSearchPaths(dirs ...string) Option {
	return func(c *config) {
		c.searchPaths = append([]string(nil), dirs...)
	}
}

// WithInvoker sets how entry points are called.
func WithInvoker(inv pe.Invoker) Option {
	return func(c *config) {
		c.invoker = inv
	}
}

// WithLocator sets where the API-Set namespace comes from.
func WithLocator(loc apiset.Locator) Option {
	return func(c *config) {
		c.locator = loc
	}
}

// WithArenaReservation sets the address space reserved for registry bookkeeping.
func WithArenaReservation(n int) Option {
	return func(c *config) {
		c.reservation = n
	}
}

// WithImageOptions passes opts to every image the registry reads.
func WithImageOptions(opts ...pe.Option) Option {
	return func(c *config) {
		c.imageOpts = append(c.imageOpts, opts...)
	}
}

// WithPreferResident makes LoadByName adopt a module the OS loader has
// already mapped instead of mapping a second copy.
func WithPreferResident(prefer bool) Option {
	return func(c *config) {
		c.preferResident = prefer
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func defaultConfig() config {
	return config{
		invoker:     pe.NativeInvoker(),
		reservation: 16 * 1024 * 1024,
		logger:      Logger(),
	}
}

func (c *config) finish() {
	if c.searchPaths == nil {
		c.searchPaths = defaultSearchPaths()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
}
