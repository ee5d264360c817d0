package canon

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Sentinel errors returned by Normalize and Serialize.
var (
	ErrCycle          = errors.New("cyclic structure")
	ErrUnsupported    = errors.New("unsupported type")
	ErrInvalidNumber  = errors.New("invalid number")
	ErrDuplicateKey   = errors.New("duplicate key after NFC normalization")
	ErrNonStringKey   = errors.New("map key is not a string")
	ErrNestingTooDeep = errors.New("nesting too deep")
)

// maxDepth bounds recursion for pathological but acyclic inputs.
const maxDepth = 256

// TimeLayout is the single string form every time.Time takes in canonical output.
const TimeLayout = time.RFC3339Nano

var (
	timeType      = reflect.TypeOf(time.Time{})
	numberType    = reflect.TypeOf(json.Number(""))
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	valueType     = reflect.TypeOf((*Value)(nil)).Elem()
)

// Normalize converts an arbitrary Go value into the canonical Value tree.
func Normalize(v any) (Value, error) {
	n := &normalizer{visiting: make(map[visitKey]struct{})}
	return n.walk(reflect.ValueOf(v), 0)
}

// FormatTime renders t the way Normalize does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type normalizer struct {
	visiting map[visitKey]struct{}
}

// enter marks a reference-typed value as in progress. Shared references that
// are not cycles are fine; only re-entering a value on the current path fails.
func (n *normalizer) enter(rv reflect.Value) (func(), error) {
	key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
	if rv.Kind() == reflect.Slice {
		key.len = rv.Len()
	}
	if _, seen := n.visiting[key]; seen {
		return nil, fmt.Errorf("%w: %s", ErrCycle, rv.Type())
	}
	n.visiting[key] = struct{}{}
	return func() { delete(n.visiting, key) }, nil
}

func (n *normalizer) walk(rv reflect.Value, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, ErrNestingTooDeep
	}
	if !rv.IsValid() {
		return Null{}, nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
	}

	if !rv.CanInterface() {
		return nil, fmt.Errorf("%w: unexported %s", ErrUnsupported, rv.Type())
	}

	if rv.Type().Implements(valueType) && rv.Kind() != reflect.Interface {
		return n.walkValue(rv.Interface().(Value), depth)
	}

	switch rv.Type() {
	case timeType:
		return String(FormatTime(rv.Interface().(time.Time))), nil
	case numberType:
		num, err := numberFromText(rv.String())
		if err != nil {
			return nil, err
		}
		return num, nil
	}

	if rv.Kind() != reflect.Pointer && rv.Kind() != reflect.Interface && rv.Type().Implements(marshalerType) {
		return n.walkMarshaler(rv.Interface().(json.Marshaler), depth)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32:
		s, err := formatFloat(rv.Float(), 32)
		if err != nil {
			return nil, err
		}
		return Number(s), nil
	case reflect.Float64:
		s, err := formatFloat(rv.Float(), 64)
		if err != nil {
			return nil, err
		}
		return Number(s), nil
	case reflect.String:
		return String(norm.NFC.String(rv.String())), nil
	case reflect.Interface:
		return n.walk(rv.Elem(), depth)
	case reflect.Pointer:
		leave, err := n.enter(rv)
		if err != nil {
			return nil, err
		}
		defer leave()
		return n.walk(rv.Elem(), depth+1)
	case reflect.Map:
		return n.walkMap(rv, depth)
	case reflect.Slice:
		if rv.IsNil() {
			return Null{}, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(base64.StdEncoding.EncodeToString(rv.Bytes())), nil
		}
		leave, err := n.enter(rv)
		if err != nil {
			return nil, err
		}
		defer leave()
		return n.walkList(rv, depth)
	case reflect.Array:
		return n.walkList(rv, depth)
	case reflect.Struct:
		return n.walkStruct(rv, depth)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, rv.Type())
	}
}

// walkValue re-validates an already-built Value so hand-constructed trees
// obey the same rules as reflected ones.
func (n *normalizer) walkValue(v Value, depth int) (Value, error) {
	switch val := v.(type) {
	case Null, Bool:
		return val, nil
	case String:
		return String(norm.NFC.String(string(val))), nil
	case Number:
		return numberFromText(string(val))
	case Array:
		if val == nil {
			return Null{}, nil
		}
		out := make(Array, len(val))
		for i, elem := range val {
			nv, err := n.walk(reflect.ValueOf(elem), depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = nv
		}
		return out, nil
	case Object:
		if val == nil {
			return Null{}, nil
		}
		out := make(Object, len(val))
		for k, elem := range val {
			nv, err := n.walk(reflect.ValueOf(elem), depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			if err := putKey(out, k, nv); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
}

func (n *normalizer) walkMarshaler(m json.Marshaler, depth int) (Value, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", m, err)
	}
	v, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("re-decode %T: %w", m, err)
	}
	return n.walkValue(v, depth)
}

func (n *normalizer) walkMap(rv reflect.Value, depth int) (Value, error) {
	if rv.IsNil() {
		return Null{}, nil
	}
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("%w: %s", ErrNonStringKey, rv.Type())
	}
	leave, err := n.enter(rv)
	if err != nil {
		return nil, err
	}
	defer leave()

	out := make(Object, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		nv, err := n.walk(iter.Value(), depth+1)
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		if err := putKey(out, k, nv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (n *normalizer) walkList(rv reflect.Value, depth int) (Value, error) {
	out := make(Array, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		nv, err := n.walk(rv.Index(i), depth+1)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = nv
	}
	return out, nil
}

func (n *normalizer) walkStruct(rv reflect.Value, depth int) (Value, error) {
	out := make(Object)
	if err := n.collectFields(rv, out, depth); err != nil {
		return nil, err
	}
	return out, nil
}

// collectFields follows encoding/json naming: json tag name, "-" skips,
// omitempty drops empty values, untagged embedded structs are flattened
// with outer fields taking precedence.
func (n *normalizer) collectFields(rv reflect.Value, out Object, depth int) error {
	rt := rv.Type()
	var embedded []reflect.Value

	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		fv := rv.Field(i)
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded = append(embedded, fv)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}

		nv, err := n.walk(fv, depth+1)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := putKey(out, name, nv); err != nil {
			return err
		}
	}

	for _, ev := range embedded {
		inner := make(Object)
		if err := n.collectFields(ev, inner, depth+1); err != nil {
			return err
		}
		for k, v := range inner {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return nil
}

func putKey(obj Object, key string, v Value) error {
	k := norm.NFC.String(key)
	if _, exists := obj[k]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, k)
	}
	obj[k] = v
	return nil
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time).IsZero()
		}
	}
	return false
}

// formatFloat renders the shortest decimal that round-trips, switching to
// exponent form outside [1e-6, 1e21) as ECMAScript does.
func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, bits), nil
	}
	return strconv.FormatFloat(f, 'e', -1, bits), nil
}

// numberFromText normalizes a JSON number spelling so that "80", "80.0" and
// float64(80) all produce the same Number.
func numberFromText(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Number(strconv.FormatInt(i, 10)), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Number(strconv.FormatUint(u, 10)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	out, err := formatFloat(f, 64)
	if err != nil {
		return "", err
	}
	return Number(out), nil
}
