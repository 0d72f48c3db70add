package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
)

// ErrNoFactory is returned when a descriptor without a factory is built.
var ErrNoFactory = errors.New("middleware: descriptor has no factory")

// Factory instantiates a middleware around next from the arguments recorded
// in a Descriptor.
type Factory func(next http.Handler, args []any, opts Options) (http.Handler, error)

// Descriptor records a middleware factory together with its arguments so the
// stack can be declared before the application it wraps exists. Descriptors
// are values; the With methods return modified copies.
type Descriptor struct {
	name    string
	factory Factory
	args    []any
	options Options
}

// Define returns a descriptor for factory with the given positional args.
func Define(name string, factory Factory, args ...any) Descriptor {
	return Descriptor{
		name:    name,
		factory: factory,
		args:    append([]any(nil), args...),
	}
}

// Wrapping returns a descriptor for a plain Middleware that takes no
// arguments.
func Wrapping(name string, mw Middleware) Descriptor {
	return Define(name, plain(mw))
}

// With returns a copy of d with the keyword option key set to value. Setting
// an existing key replaces it in place.
func (d Descriptor) With(key string, value any) Descriptor {
	d.args = append([]any(nil), d.args...)
	d.options = d.options.with(key, value)
	return d
}

// WithOptions returns a copy of d with every entry of opts set. Keys are
// applied in sorted order.
func (d Descriptor) WithOptions(opts map[string]any) Descriptor {
	for _, key := range sortedKeys(opts) {
		d = d.With(key, opts[key])
	}
	return d
}

// Name returns the name the descriptor was defined with.
func (d Descriptor) Name() string {
	return d.name
}

// Args returns a copy of the positional arguments.
func (d Descriptor) Args() []any {
	return append([]any(nil), d.args...)
}

// Options returns the keyword options.
func (d Descriptor) Options() Options {
	return d.options.clone()
}

// Unpack returns the factory, positional arguments and keyword options.
// The returned slices are copies.
func (d Descriptor) Unpack() (Factory, []any, Options) {
	return d.factory, d.Args(), d.Options()
}

// Wrap instantiates the middleware around next.
func (d Descriptor) Wrap(next http.Handler) (http.Handler, error) {
	if d.factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, d.name)
	}
	h, err := d.factory(next, d.Args(), d.Options())
	if err != nil {
		return nil, fmt.Errorf("build middleware %s: %w", d.name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("build middleware %s: factory returned nil handler", d.name)
	}
	return h, nil
}

// String renders the descriptor as Middleware(Name, arg, key=value).
func (d Descriptor) String() string {
	parts := []string{d.name}
	for _, a := range d.args {
		parts = append(parts, formatValue(a))
	}
	for _, o := range d.options.entries {
		parts = append(parts, o.Key+"="+formatValue(o.Value))
	}
	return "Middleware(" + strings.Join(parts, ", ") + ")"
}

// Build wraps app in the stack. The first descriptor is the outermost
// middleware, so a request passes through the stack in slice order.
func Build(app http.Handler, stack ...Descriptor) (http.Handler, error) {
	h := app
	for i := len(stack) - 1; i >= 0; i-- {
		next, err := stack[i].Wrap(h)
		if err != nil {
			return nil, err
		}
		h = next
	}
	return h, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", val)
	case fmt.Stringer:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = formatValue(rv.Index(i).Interface())
		}
		return "[" + strings.Join(items, ", ") + "]"
	}
	if rv.Kind() == reflect.Func {
		return rv.Type().String()
	}
	return fmt.Sprintf("%v", v)
}
