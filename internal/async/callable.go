package async

import (
	"errors"
	"fmt"
	"reflect"
)

// FutureProducer marks a callable value whose invocation yields a future.
// Types declare it once instead of being introspected per call.
type FutureProducer interface {
	ProducesFuture() bool
}

// Unwrapper is implemented by wrappers around another callable.
type Unwrapper interface {
	Unwrap() any
}

var awaitableType = reflect.TypeOf((*Awaitable)(nil)).Elem()

// IsAsyncCallable reports whether invoking obj yields an Awaitable. Wrapper
// layers are peeled first. Only types are inspected; obj is never called.
func IsAsyncCallable(obj any) bool {
	for {
		u, ok := obj.(Unwrapper)
		if !ok {
			break
		}
		obj = u.Unwrap()
	}
	if obj == nil {
		return false
	}
	if fp, ok := obj.(FutureProducer); ok {
		return fp.ProducesFuture()
	}

	t := reflect.TypeOf(obj)
	if t.Kind() == reflect.Func {
		return returnsAwaitable(t)
	}
	// Callable objects expose their invocation as a Call method.
	if m, ok := t.MethodByName("Call"); ok {
		return returnsAwaitable(m.Type)
	}
	return false
}

func returnsAwaitable(t reflect.Type) bool {
	return t.NumOut() > 0 && t.Out(0).Implements(awaitableType)
}

// Partial binds leading arguments to a function.
type Partial struct {
	fn   any
	args []any
}

// Bind returns fn with args applied first. fn may itself be a *Partial.
func Bind(fn any, args ...any) *Partial {
	return &Partial{fn: fn, args: append([]any(nil), args...)}
}

// Unwrap returns the wrapped callable, nil for a nil *Partial.
func (p *Partial) Unwrap() any {
	if p == nil {
		return nil
	}
	return p.fn
}

// Args returns a copy of the bound arguments.
func (p *Partial) Args() []any {
	if p == nil {
		return nil
	}
	return append([]any(nil), p.args...)
}

// Call invokes the wrapped function with the bound arguments followed by
// args and returns its results.
func (p *Partial) Call(args ...any) ([]any, error) {
	if p == nil {
		return nil, errors.New("async: call of nil partial")
	}
	all := append(p.Args(), args...)
	if inner, ok := p.fn.(*Partial); ok {
		return inner.Call(all...)
	}

	fv := reflect.ValueOf(p.fn)
	if fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("async: %T is not a function", p.fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		if len(all) < ft.NumIn()-1 {
			return nil, fmt.Errorf("async: want at least %d arguments, got %d", ft.NumIn()-1, len(all))
		}
	} else if len(all) != ft.NumIn() {
		return nil, fmt.Errorf("async: want %d arguments, got %d", ft.NumIn(), len(all))
	}

	in := make([]reflect.Value, len(all))
	for i, a := range all {
		pt := paramType(ft, i)
		if a == nil {
			in[i] = reflect.Zero(pt)
			continue
		}
		v := reflect.ValueOf(a)
		if !v.Type().AssignableTo(pt) {
			return nil, fmt.Errorf("async: argument %d: %T not assignable to %s", i, a, pt)
		}
		in[i] = v
	}

	out := fv.Call(in)
	results := make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, nil
}

func paramType(ft reflect.Type, i int) reflect.Type {
	if ft.IsVariadic() && i >= ft.NumIn()-1 {
		return ft.In(ft.NumIn() - 1).Elem()
	}
	return ft.In(i)
}
