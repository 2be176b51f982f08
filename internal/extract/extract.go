// Package extract resolves dotted field paths such as "pose.position.x"
// against self-describing values: decoded JSON/YAML maps, typed structs and
// pointers to either.
//
// A path resolves only when it ends on a scalar (bool, string, number,
// time.Time, time.Duration). Absent roots, unknown fields, nil pointers and
// non-leaf results are all reported as a miss, never as an error.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Extract walks path one named field at a time. The second result is false
// when the path does not resolve to a scalar.
func Extract(value any, path string) (any, bool) {
	if value == nil || path == "" {
		return nil, false
	}

	cur := value
	rest := path
	for {
		seg, tail, more := strings.Cut(rest, ".")
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
		if !more {
			break
		}
		rest = tail
	}
	return scalar(cur)
}

// ValidatePath rejects paths that can never resolve.
func ValidatePath(path string) error {
	if path == "" {
		return errors.New("field path is empty")
	}
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("field path %q has an empty segment at position %d", path, i)
		}
	}
	return nil
}

func step(v any, name string) (any, bool) {
	if name == "" {
		return nil, false
	}
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		x, ok := m[name]
		return x, ok
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		x := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !x.IsValid() {
			return nil, false
		}
		return x.Interface(), true
	case reflect.Struct:
		idx, ok := lookupField(rv.Type(), name)
		if !ok {
			return nil, false
		}
		f, err := rv.FieldByIndexErr(idx)
		if err != nil {
			return nil, false
		}
		return f.Interface(), true
	default:
		return nil, false
	}
}

func scalar(v any) (any, bool) {
	switch v.(type) {
	case nil:
		return nil, false
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		json.Number, time.Time, time.Duration:
		return v, true
	}

	rv, ok := indirect(reflect.ValueOf(v))
	if !ok {
		return nil, false
	}
	if rv.Type() == timeType {
		return rv.Interface(), true
	}
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return rv.Interface(), true
	default:
		return nil, false
	}
}

var timeType = reflect.TypeOf(time.Time{})

func indirect(rv reflect.Value) (reflect.Value, bool) {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, rv.IsValid()
}

// fieldIndex maps every accepted spelling of a struct's exported fields to
// the field's index path. Lookups try the Go name, then json/yaml tags, then
// a case and underscore insensitive form so that ROS style snake_case paths
// match Go CamelCase fields.
type fieldIndex struct {
	exact      map[string][]int
	tagged     map[string][]int
	normalized map[string][]int
}

var fieldCache sync.Map // reflect.Type -> *fieldIndex

func lookupField(t reflect.Type, name string) ([]int, bool) {
	fi := indexFor(t)
	if idx, ok := fi.exact[name]; ok {
		return idx, true
	}
	if idx, ok := fi.tagged[name]; ok {
		return idx, true
	}
	idx, ok := fi.normalized[normalize(name)]
	return idx, ok
}

func indexFor(t reflect.Type) *fieldIndex {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(*fieldIndex)
	}

	fi := &fieldIndex{
		exact:      make(map[string][]int),
		tagged:     make(map[string][]int),
		normalized: make(map[string][]int),
	}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() {
			continue
		}
		fi.exact[f.Name] = f.Index
		for _, key := range []string{"json", "yaml"} {
			tag, _, _ := strings.Cut(f.Tag.Get(key), ",")
			if tag == "" || tag == "-" {
				continue
			}
			if _, dup := fi.tagged[tag]; !dup {
				fi.tagged[tag] = f.Index
			}
		}
		if n := normalize(f.Name); n != "" {
			if _, dup := fi.normalized[n]; !dup {
				fi.normalized[n] = f.Index
			}
		}
	}

	actual, _ := fieldCache.LoadOrStore(t, fi)
	return actual.(*fieldIndex)
}

func normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}
