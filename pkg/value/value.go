// Package value implements the tagged-union runtime value type shared by the
// parser, compiler and VM: Null, Bool, Number, String, Array and Object,
// plus a total nested-path lookup over it.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the runtime value type. Exactly one of the typed fields is
// meaningful, selected by Kind. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null is the canonical Null value.
var Null = Value{kind: KindNull}

func Bool(b bool) Value   { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value  { return Value{kind: KindString, s: s} }

func Array(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

func (v Value) Kind() Kind  { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload and whether v is actually a Bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric payload and whether v is actually a Number.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

// AsString returns the string payload and whether v is actually a String.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsArray returns the element slice and whether v is actually an Array.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsObject returns the field map and whether v is actually an Object.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Truthy implements the Null-as-falsy policy: Null and false are falsy,
// zero numbers and empty strings/arrays/objects are also falsy, everything
// else is truthy. Used by the feature filter gate; the VM's JumpIfFalse
// uses its own narrower test, under which only Null and false are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindString:
		return v.s != ""
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return len(v.obj) > 0
	default:
		return false
	}
}

// Get navigates a sequence of keys through nested Objects. It is total:
// a missing key at any segment, or traversal through a non-Object, yields
// Null rather than an error. An empty path also yields Null.
func Get(v Value, path []string) Value {
	if len(path) == 0 {
		return Null
	}
	cur := v
	for _, key := range path {
		obj, ok := cur.AsObject()
		if !ok {
			return Null
		}
		next, found := obj[key]
		if !found {
			return Null
		}
		cur = next
	}
	return cur
}

// GetDotted splits a dotted path string ("user.profile.age") and calls Get.
func GetDotted(v Value, dotted string) Value {
	if dotted == "" {
		return Null
	}
	return Get(v, strings.Split(dotted, "."))
}

// Equal implements JSON-like equality. Null equals only Null here; a
// comparison with Null on either side yields a Null result one layer up,
// in the VM's Compare step, before this helper is reached.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values for <, <=, >, >= . Numbers compare numerically;
// strings compare lexically; any other pairing (including Null on either
// side, or mismatched kinds) is not orderable and the second return is
// false — callers must treat that as a Null comparison result.
func Compare(a, b Value) (int, bool) {
	if an, ok := a.AsNumber(); ok {
		if bn, ok2 := b.AsNumber(); ok2 {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if as, ok := a.AsString(); ok {
		if bs, ok2 := b.AsString(); ok2 {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}
	return 0, false
}

// Contains reports whether needle is found in haystack: substring search for
// strings, membership for arrays and objects (object membership checks keys).
// Any other haystack kind reports not-found rather than erroring.
func Contains(haystack, needle Value) bool {
	switch haystack.kind {
	case KindString:
		hs, _ := haystack.AsString()
		ns, ok := needle.AsString()
		if !ok {
			ns = ToDisplayString(needle)
		}
		return strings.Contains(hs, ns)
	case KindArray:
		for _, item := range haystack.arr {
			if Equal(item, needle) {
				return true
			}
		}
		return false
	case KindObject:
		ns, ok := needle.AsString()
		if !ok {
			return false
		}
		_, found := haystack.obj[ns]
		return found
	default:
		return false
	}
}

// ToDisplayString renders a Value for string contexts (concatenation,
// pattern matching operands). Not used for JSON encoding.
func ToDisplayString(v Value) string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = ToDisplayString(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + ToDisplayString(v.obj[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	if math.Trunc(n) == n && !math.IsInf(n, 0) {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// MarshalJSON encodes a Value the way encoding/json would encode the
// equivalent native Go value (untagged, like the reference implementation).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes arbitrary JSON into the appropriate Value variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromNative(raw)
	return nil
}

// FromNative converts a decoded interface{} tree (as produced by
// encoding/json or gopkg.in/yaml.v3, after normalizing map keys to string)
// into a Value tree.
func FromNative(raw interface{}) Value {
	switch x := raw.(type) {
	case nil:
		return Null
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case string:
		return String(x)
	case []interface{}:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = FromNative(item)
		}
		return Array(items)
	case []Value:
		return Array(x)
	case map[string]interface{}:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			fields[k] = FromNative(item)
		}
		return Object(fields)
	case map[interface{}]interface{}:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			fields[fmt.Sprintf("%v", k)] = FromNative(item)
		}
		return Object(fields)
	case map[string]Value:
		return Object(x)
	case Value:
		return x
	default:
		return Null
	}
}

// String implements fmt.Stringer for debugging and trace output.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.s)
	default:
		return ToDisplayString(v)
	}
}
