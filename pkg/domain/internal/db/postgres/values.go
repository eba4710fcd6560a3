package postgres

import (
	"math"
	"reflect"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Coerce converts v into a value for the column typed typ.
//
// Non-finite numbers are NULL. Booleans are 0/1 in numeric columns.
// Numbers, booleans, times and documents are formatted in text columns.
//
// # Returns
//
// - any: value to be bound.
//
// - error: TypeMismatch when v cannot be stored in the column.
func Coerce(table, column, typ string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := pgerrors.TypeMismatch{Table: table, Column: column, Type: typ, Value: v}

	f, isNumber := number(v)
	if isNumber && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, nil
	}

	switch typ {
	case kschema.TypeFloat, "real", "numeric":
		if b, ok := v.(bool); ok {
			return boolNumber(b), nil
		}
		if !isNumber {
			return nil, mismatch
		}
		return f, nil
	case kschema.TypeInteger, "integer", "smallint":
		if b, ok := v.(bool); ok {
			return int64(boolNumber(b)), nil
		}
		if i, ok := integer(v); ok {
			return i, nil
		}
		if !isNumber || f != math.Trunc(f) {
			return nil, mismatch
		}
		return int64(f), nil
	case kschema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		if !isNumber {
			return nil, mismatch
		}
		return f != 0, nil
	case kschema.TypeTime, "timestamp without time zone":
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, mismatch
			}
			return parsed, nil
		}
		return nil, mismatch
	default:
		return Text(v)
	}
}

// Text formats v for text columns.
func Text(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	}
	if i, ok := integer(v); ok {
		return strconv.FormatInt(i, 10), nil
	}
	if f, ok := number(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := integer(v); ok {
		return float64(i), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func integer(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), true
	}
	return 0, false
}

// inflate decodes JSON text columns. Values which are not JSON are kept as they are.
func inflate(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	var out any
	if err := json.UnmarshalFromString(s, &out); err != nil {
		return v
	}
	return out
}
