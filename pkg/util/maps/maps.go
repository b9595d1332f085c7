package maps

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Get returns the value for the given dotted key, or nil when any part of the
// path is missing.
func Get(m interface{}, key string) interface{} {
	var obj interface{} = m
	var val interface{}

	for _, p := range strings.Split(key, ".") {
		v, ok := obj.(map[string]interface{})
		if !ok {
			return nil
		}
		obj = v[p]
		val = obj
	}
	return val
}

// Merge copies every entry of src into dst, overriding existing keys.
// Nested maps are not merged recursively; parameter surfaces are flat.
func Merge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Decode takes an input structure and uses reflection to translate it to the
// output structure. output must be a pointer to a map or struct.
func Decode(in, out interface{}) error {
	return mapstructure.Decode(in, out)
}
