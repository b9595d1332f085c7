package template

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"nereus/pkg/util/maps"
)

// ResolveFunc specifies how a template expression should be resolved.
type ResolveFunc func(expr Expression) (interface{}, error)

// ResolveWithMap returns a ResolveFunc that performs resolution from a map,
// following dotted paths (e.g. in.reads, params.kmer).
func ResolveWithMap(m map[string]interface{}) ResolveFunc {
	return func(expr Expression) (interface{}, error) {
		res := maps.Get(m, expr.Text)
		if res == nil {
			return nil, errors.Errorf("expression %s resolved to nil interface", expr)
		}
		return res, nil
	}
}

// Resolve substitutes every expression in the template string using the given
// resolver. Batch expressions must resolve to a slice; their elements are
// joined with single spaces.
func Resolve(in string, resolver ResolveFunc) (string, error) {
	if !strings.ContainsAny(in, singlePrefix+batchPrefix) {
		return in, nil
	}
	var rerr error
	out := tplRegexp.ReplaceAllStringFunc(in, func(matched string) string {
		if rerr != nil {
			return ""
		}
		e := asExpression(matched)
		val, err := resolver(e)
		if err != nil {
			rerr = errors.Wrapf(err, "cannot resolve template expression %s", e)
			return ""
		}
		if e.IsBatch {
			joined, err := joinBatch(val)
			if err != nil {
				rerr = errors.Wrapf(err, "cannot resolve template expression %s", e)
				return ""
			}
			return joined
		}
		return fmt.Sprintf("%v", val)
	})
	return out, rerr
}

func joinBatch(val interface{}) (string, error) {
	v := reflect.ValueOf(val)
	if v.Kind() != reflect.Array && v.Kind() != reflect.Slice {
		return "", errors.Errorf("batch expression did not resolve to a sequence (got %T)", val)
	}
	parts := make([]string, v.Len())
	for i := 0; i < v.Len(); i++ {
		parts[i] = fmt.Sprintf("%v", v.Index(i).Interface())
	}
	return strings.Join(parts, " "), nil
}
