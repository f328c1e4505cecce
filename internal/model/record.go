// internal/model/record.go
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Record is one decoded JSON object from the GitHub API.
//
// Values held by a Record are always one of nil, bool, int64, float64, string,
// []any or Record. Decode and Normalize establish that invariant so the
// normalizer and the store never have to deal with json.Number or YAML's
// loosely typed maps.
type Record map[string]any

// Decode parses a JSON document and normalizes every value in it.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// DecodeRecord parses a JSON object.
func DecodeRecord(data []byte) (Record, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec, ok := v.(Record)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return rec, nil
}

// Normalize converts values produced by encoding/json or gopkg.in/yaml.v3
// into the canonical Record value types.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case Record:
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case map[string]any:
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case map[any]any:
		out := make(Record, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return fmt.Sprint(t)
	}
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the string at key, or "" if absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns the integer at key.
func (r Record) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), v == float64(int64(v))
	}
	return 0, false
}

// Object returns the nested object at key, or nil.
func (r Record) Object(key string) Record {
	obj, _ := r[key].(Record)
	return obj
}

// Objects returns the nested objects of the array at key, skipping
// elements that are not objects.
func (r Record) Objects(key string) []Record {
	arr, _ := r[key].([]any)
	out := make([]Record, 0, len(arr))
	for _, v := range arr {
		if obj, ok := v.(Record); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Pop removes key and returns its previous value.
func (r Record) Pop(key string) any {
	v := r[key]
	delete(r, key)
	return v
}

// WithoutURLs returns a copy of r without the keys ending in "url", except
// for the ones listed in keep. API URLs can be rebuilt from the entity's
// identity; html_url is the canonical link and is usually kept.
func (r Record) WithoutURLs(keep ...string) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if strings.HasSuffix(k, "url") && !contains(keep, k) {
			continue
		}
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Seq yields recs in order with no error. It adapts slices to the shape of
// a paginated walk.
func Seq(recs ...Record) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}
