package middleware

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Option is one keyword argument of a Descriptor.
type Option struct {
	Key   string
	Value any
}

// Options holds keyword arguments in the order they were set.
type Options struct {
	entries []Option
}

// Get returns the value stored under key.
func (o Options) Get(key string) (any, bool) {
	for _, e := range o.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Len returns the number of options.
func (o Options) Len() int {
	return len(o.entries)
}

// Keys returns option keys in insertion order.
func (o Options) Keys() []string {
	keys := make([]string, len(o.entries))
	for i, e := range o.entries {
		keys[i] = e.Key
	}
	return keys
}

// Map returns the options as a map.
func (o Options) Map() map[string]any {
	m := make(map[string]any, len(o.entries))
	for _, e := range o.entries {
		m[e.Key] = e.Value
	}
	return m
}

// Decode fills out, a pointer to a struct, from the options. Field names
// come from mapstructure tags. Input is weakly typed so values read from
// YAML or the environment convert to the field types; durations accept
// strings like "5s" and string slices accept comma separated values.
func (o Options) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("options decoder: %w", err)
	}
	if err := dec.Decode(o.Map()); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

func (o Options) with(key string, value any) Options {
	entries := make([]Option, len(o.entries), len(o.entries)+1)
	copy(entries, o.entries)
	for i := range entries {
		if entries[i].Key == key {
			entries[i].Value = value
			return Options{entries: entries}
		}
	}
	return Options{entries: append(entries, Option{Key: key, Value: value})}
}

func (o Options) clone() Options {
	return Options{entries: append([]Option(nil), o.entries...)}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
