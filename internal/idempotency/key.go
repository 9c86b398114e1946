package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator delimits segments of a derived key before hashing.
const KeySeparator = "::"

// ErrNoKeySource means neither derivation fields nor a header value were supplied.
var ErrNoKeySource = errors.New("no idempotency key source")

// KeySource describes where a key comes from. Fields is an expression over
// the operation's logical parameters: their deterministic serialization is
// hashed into the key. Header is a verbatim client-supplied identifier.
// Fields takes precedence when both are set.
type KeySource struct {
	Scope  string // logical operation name, e.g. "purge"
	Fields []any
	Header string
}

// DeriveKey produces a stable key for the source. Logically identical calls
// must yield the same Fields; callers own that contract.
func DeriveKey(src KeySource) (string, error) {
	if len(src.Fields) > 0 {
		parts := make([]string, 0, len(src.Fields)+1)
		parts = append(parts, src.Scope)
		for _, f := range src.Fields {
			parts = append(parts, serializeValue(f))
		}
		sum := xxhash.Sum64String(strings.Join(parts, KeySeparator))
		return src.Scope + "-" + strconv.FormatUint(sum, 16), nil
	}
	if src.Header != "" {
		return src.Header, nil
	}
	return "", ErrNoKeySource
}

// serializeValue renders a single field deterministically. Maps are emitted
// with sorted keys; pointers are dereferenced; everything exotic falls back
// to JSON.
func serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return serializeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts[i] = serializeValue(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		byKey := map[string]string{}
		iter := rv.MapRange()
		for iter.Next() {
			k := serializeValue(iter.Key().Interface())
			keys = append(keys, k)
			byKey[k] = serializeValue(iter.Value().Interface())
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + byKey[k]
		}
		return "{" + strings.Join(pairs, ",") + "}"
	case reflect.Struct:
		rt := rv.Type()
		parts := make([]string, 0, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			if !rt.Field(i).IsExported() {
				continue
			}
			parts = append(parts, rt.Field(i).Name+":"+serializeValue(rv.Field(i).Interface()))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return fmt.Sprintf("%v", v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%s", reflect.TypeOf(v).String())
	}
	return string(data)
}
