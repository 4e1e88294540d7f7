package breaker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"callpipe/internal/logging"
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger breakers report state changes to.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logging.NewComponentLogger(logger, "breaker")
	}
}

// WithStateChange registers a callback for every breaker transition.
func WithStateChange(fn StateChangeFunc) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// WithOverride uses custom settings for one dependency name.
func WithOverride(name string, settings Settings) Option {
	return func(r *Registry) {
		r.overrides[name] = settings
	}
}

// Registry owns one Breaker per dependency name.
type Registry struct {
	settings  Settings
	overrides map[string]Settings
	now       func() time.Time
	logger    *slog.Logger
	onChange  StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use settings unless
// overridden per name.
func NewRegistry(settings Settings, opts ...Option) *Registry {
	r := &Registry{
		settings:  settings.normalized(),
		overrides: map[string]Settings{},
		now:       time.Now,
		logger:    logging.NewNop(),
		breakers:  map[string]*Breaker{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the shared breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	settings := r.settings
	if override, ok := r.overrides[name]; ok {
		settings = override
	}
	b := newBreaker(name, settings, r.now, r.logger, r.onChange)
	r.breakers[name] = b
	return b
}

// Snapshot returns stats for every known breaker sorted by name.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(list))
	for _, b := range list {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Reset closes the named breaker. It reports false when the name is unknown.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}
