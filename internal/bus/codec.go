package bus

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Stream entries hold flat string fields. Flatten and Unflatten convert
// between typed event structs and that wire shape: times become RFC 3339,
// booleans "1"/"0", numbers their decimal form, and nested maps, slices and
// structs are embedded as JSON.

var timeType = reflect.TypeOf(time.Time{})

// Flatten converts an event struct (or pointer to one) into the flat field
// map stored in a stream entry. Nil pointer fields are omitted.
func Flatten(event any) (map[string]string, error) {
	v := reflect.ValueOf(event)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("event must not be nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("event must be a struct, got %T", event)
	}

	fields := make(map[string]string)
	if err := flattenStruct(v, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func flattenStruct(v reflect.Value, out map[string]string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, skip := jsonFieldName(sf)
		if skip {
			continue
		}

		fv := v.Field(i)

		// Untagged embedded structs flatten inline, like encoding/json.
		if sf.Anonymous && fv.Kind() == reflect.Struct && sf.Tag.Get("json") == "" {
			if err := flattenStruct(fv, out); err != nil {
				return err
			}
			continue
		}

		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}

		s, err := encodeField(name, fv)
		if err != nil {
			return err
		}
		out[name] = s
	}
	return nil
}

func encodeField(name string, v reflect.Value) (string, error) {
	if v.Type() == timeType {
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		if v.Bool() {
			return "1", nil
		}
		return "0", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	default:
		raw, err := sonic.ConfigStd.Marshal(v.Interface())
		if err != nil {
			return "", fmt.Errorf("field %s: %w", name, err)
		}
		return string(raw), nil
	}
}

// Unflatten populates target (a pointer to a struct) from a flat field map.
// Fields absent from the map keep their zero value; map keys with no
// matching struct field are ignored.
func Unflatten(fields map[string]string, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer, got %T", target)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("target must point to a struct, got %T", target)
	}
	return unflattenStruct(v, fields)
}

func unflattenStruct(v reflect.Value, fields map[string]string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, skip := jsonFieldName(sf)
		if skip {
			continue
		}

		fv := v.Field(i)

		if sf.Anonymous && fv.Kind() == reflect.Struct && sf.Tag.Get("json") == "" {
			if err := unflattenStruct(fv, fields); err != nil {
				return err
			}
			continue
		}

		raw, ok := fields[name]
		if !ok {
			continue
		}
		if err := decodeField(name, raw, fv); err != nil {
			return err
		}
	}
	return nil
}

func decodeField(name, raw string, fv reflect.Value) error {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}

	if fv.Type() == timeType {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("field %s: invalid timestamp %q: %w", name, raw, err)
		}
		fv.Set(reflect.ValueOf(ts))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("field %s: invalid bool %q", name, raw)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("field %s: invalid integer %q", name, raw)
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("field %s: invalid unsigned integer %q", name, raw)
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("field %s: invalid float %q", name, raw)
		}
		fv.SetFloat(f)
	default:
		if err := sonic.Unmarshal([]byte(raw), fv.Addr().Interface()); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

func jsonFieldName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name = sf.Name
	if tag != "" {
		if comma := strings.Index(tag, ","); comma >= 0 {
			tag = tag[:comma]
		}
		if tag != "" {
			name = tag
		}
	}
	return name, false
}
