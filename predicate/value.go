package predicate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Map adapts a plain map into a Target.
type Map map[string]any

func (m Map) Lookup(path string) (any, bool) { return Lookup(map[string]any(m), path) }

// Lookup resolves a dotted path in nested maps and slices. Numeric segments
// index into slices.
func Lookup(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	cur := root
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case Map:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		case []string:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Equal compares two values, treating all numeric types as float64.
func Equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	if okA != okB {
		return false
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// Stringify renders a value as text. Lists of lines are joined with newlines.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, "\n")
	case []any:
		lines := make([]string, len(x))
		for i, e := range x {
			lines[i] = Stringify(e)
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		if raw, err := json.Marshal(x); err == nil {
			return string(raw)
		}
	}
	return fmt.Sprint(v)
}

func compare(a, b any) (int, error) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}

	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), nil
	}

	return 0, goerr.Wrap(ErrTypeMismatch, "values are not comparable",
		goerr.V("left", fmt.Sprintf("%T", a)),
		goerr.V("right", fmt.Sprintf("%T", b)))
}

// contains checks substring for text, membership for lists and key presence
// for maps. A list element that is text also matches by substring.
func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		return strings.Contains(c, Stringify(item)), nil
	case []string:
		needle := Stringify(item)
		for _, e := range c {
			if strings.Contains(e, needle) {
				return true, nil
			}
		}
		return false, nil
	case []any:
		for _, e := range c {
			if Equal(e, item) {
				return true, nil
			}
			if s, ok := e.(string); ok {
				if needle, ok := item.(string); ok && strings.Contains(s, needle) {
					return true, nil
				}
			}
		}
		return false, nil
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false, goerr.Wrap(ErrTypeMismatch, "map membership requires a string key")
		}
		_, found := c[key]
		return found, nil
	}
	return false, goerr.Wrap(ErrTypeMismatch, "value does not support contains", goerr.V("type", fmt.Sprintf("%T", container)))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalize converts typed slices and maps decoded from YAML into the shapes
// produced by encoding/json so DeepEqual compares like with like.
func normalize(v any) any {
	switch x := v.(type) {
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case Map:
		return map[string]any(x)
	}
	return v
}
