package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgo/trellis/internal/config"
)

// ErrUnknownMiddleware is returned when a configured name is not registered.
var ErrUnknownMiddleware = errors.New("unknown middleware")

// Registry maps middleware names to factories so stacks can be declared in
// configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptor returns a descriptor for the named factory.
func (r *Registry) Descriptor(name string, args []any, options map[string]any) (Descriptor, error) {
	f, ok := r.Lookup(name)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownMiddleware, name)
	}
	return Define(name, f, args...).WithOptions(options), nil
}

// FromConfig resolves a configured stack, outermost first.
func (r *Registry) FromConfig(specs []config.MiddlewareSpec) ([]Descriptor, error) {
	stack := make([]Descriptor, 0, len(specs))
	var errs []error
	for i, spec := range specs {
		d, err := r.Descriptor(spec.Name, spec.Args, spec.Options)
		if err != nil {
			errs = append(errs, fmt.Errorf("middleware[%d]: %w", i, err))
			continue
		}
		stack = append(stack, d)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return stack, nil
}

// DefaultRegistry returns a registry holding the built-in middleware that can
// be configured from plain values: request_id, logger, cors, gzip,
// rate_limit, idempotency and metrics. Metrics register with reg.
func DefaultRegistry(reg prometheus.Registerer) *Registry {
	r := NewRegistry()
	r.Register("request_id", plain(RequestID))
	r.Register("logger", plain(Logger))
	r.Register("cors", corsFactory)
	r.Register("gzip", gzipFactory)
	r.Register("rate_limit", rateLimitFactory)
	r.Register("idempotency", idempotencyFactory)
	r.Register("metrics", metricsFactory(reg))
	return r
}

func plain(mw Middleware) Factory {
	return func(next http.Handler, _ []any, _ Options) (http.Handler, error) {
		return mw(next), nil
	}
}

// corsFactory accepts origins as positional args or an allowed_origins option.
func corsFactory(next http.Handler, args []any, opts Options) (http.Handler, error) {
	var cfg struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	}
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	for _, a := range args {
		origin, ok := a.(string)
		if !ok {
			return nil, fmt.Errorf("cors: origin must be a string, got %T", a)
		}
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
	}
	if len(cfg.AllowedOrigins) == 0 {
		return nil, errors.New("cors: at least one allowed origin is required")
	}
	return CORS(cfg.AllowedOrigins)(next), nil
}

// gzipFactory accepts the minimum size as its only positional arg.
func gzipFactory(next http.Handler, args []any, opts Options) (http.Handler, error) {
	var cfg GZipConfig
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	if len(args) > 1 {
		return nil, fmt.Errorf("gzip: expected at most 1 positional argument, got %d", len(args))
	}
	if len(args) == 1 {
		size, ok := args[0].(int)
		if !ok {
			return nil, fmt.Errorf("gzip: minimum size must be an int, got %T", args[0])
		}
		cfg.MinimumSize = size
	}
	return GZip(cfg)(next), nil
}

func rateLimitFactory(next http.Handler, args []any, opts Options) (http.Handler, error) {
	if len(args) > 0 {
		return nil, errors.New("rate_limit: takes options only")
	}
	var cfg RateLimitConfig
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	return RateLimit(NewRateLimiter(cfg))(next), nil
}

func idempotencyFactory(next http.Handler, args []any, opts Options) (http.Handler, error) {
	if len(args) > 0 {
		return nil, errors.New("idempotency: takes options only")
	}
	var cfg IdempotencyConfig
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	return Idempotency(NewIdempotencyStore(cfg))(next), nil
}

func metricsFactory(reg prometheus.Registerer) Factory {
	return func(next http.Handler, args []any, opts Options) (http.Handler, error) {
		var cfg struct {
			Namespace string `mapstructure:"namespace"`
		}
		if err := opts.Decode(&cfg); err != nil {
			return nil, err
		}
		if cfg.Namespace == "" {
			cfg.Namespace = "trellis"
		}
		m, err := NewMetrics(reg, cfg.Namespace)
		if err != nil {
			return nil, err
		}
		return m.Instrument(next), nil
	}
}
