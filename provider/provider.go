package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Option customizes a Provider at construction time, mirroring the
// teacher framework's functional-options style for AIConfig.
type Option func(*Config)

// Config holds the fields every Factory needs to build a Provider.
// Individual factories read only the fields they care about.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Width       int
	Height      int
	PricePerImg float64
	TimeoutSecs int
	Seed        int64
}

func WithModel(model string) Option      { return func(c *Config) { c.Model = model } }
func WithAPIKey(key string) Option       { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option      { return func(c *Config) { c.BaseURL = url } }
func WithDimensions(w, h int) Option     { return func(c *Config) { c.Width, c.Height = w, h } }
func WithPricePerImage(p float64) Option { return func(c *Config) { c.PricePerImg = p } }
func WithTimeoutSecs(s int) Option       { return func(c *Config) { c.TimeoutSecs = s } }
func WithSeed(seed int64) Option         { return func(c *Config) { c.Seed = seed } }

// Factory constructs a Provider from a Config, the same role
// ai.ProviderFactory plays for AI clients.
type Factory interface {
	// Create builds a Provider from the given options.
	Create(opts ...Option) (Provider, error)
	// Name is the registry key, e.g. "mock" or "remote".
	Name() string
}

// Registry holds the known Factories, keyed by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var global = &Registry{factories: make(map[string]Factory)}

// Register adds factory to the global registry. It returns an error
// instead of panicking so callers that probe for optional providers can
// handle a duplicate name gracefully.
func Register(factory Factory) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	name := factory.Name()
	if _, exists := global.factories[name]; exists {
		return fmt.Errorf("provider: factory %q already registered", name)
	}
	global.factories[name] = factory
	return nil
}

// MustRegister panics on a duplicate name; used from package init()
// blocks where a collision is a programming error, not a runtime one.
func MustRegister(factory Factory) {
	if err := Register(factory); err != nil {
		panic(err)
	}
}

// Get looks up a registered Factory by name.
func Get(name string) (Factory, bool) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	f, ok := global.factories[name]
	return f, ok
}

// New builds a Provider by name through the global registry.
func New(name string, opts ...Option) (Provider, error) {
	f, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("provider: no factory registered for %q (known: %v)", name, List())
	}
	return f.Create(opts...)
}

// List returns the registered factory names, sorted.
func List() []string {
	global.mu.RLock()
	defer global.mu.RUnlock()
	names := make([]string, 0, len(global.factories))
	for name := range global.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
