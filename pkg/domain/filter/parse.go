package filter

import (
	"reflect"
	"slices"
	"strings"
)

// Parse converts a filter document into Expr.
//
// Keys are processed in sorted order, so the same document gives the same Expr.
//
// # Args
//
// - doc: filter document. Each key is a field name or "$or"/"$and".
// Each value is a scalar (equality) or a document of operators:
// "$eq", "$ne", "$in", "$nin", "$exists", "$regex", "$gt", "$gte", "$lt" and "$lte".
//
// # Returns
//
// - Expr: And of conditions of each keys. Empty document gives empty And.
//
// - error: *UnsupportedError for unknown operators or malformed values.
func Parse(doc map[string]any) (Expr, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	exprs := make([]Expr, 0, len(keys))
	for _, key := range keys {
		value := doc[key]
		switch {
		case key == "$or", key == "$and":
			subs, err := parseList(key, value)
			if err != nil {
				return nil, err
			}
			if key == "$or" {
				exprs = append(exprs, Or{Exprs: subs})
			} else {
				exprs = append(exprs, And{Exprs: subs})
			}
		case strings.HasPrefix(key, "$"):
			return nil, &UnsupportedError{Operator: key, Reason: "unknown top level operator"}
		case key == "":
			return nil, &UnsupportedError{Reason: "empty field name"}
		default:
			e, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
	}
	return And{Exprs: exprs}, nil
}

func parseList(op string, value any) ([]Expr, error) {
	docs, ok := asDocs(value)
	if !ok {
		return nil, &UnsupportedError{Operator: op, Reason: "list of documents is required"}
	}
	out := make([]Expr, 0, len(docs))
	for _, d := range docs {
		e, err := Parse(d)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseField(field string, value any) (Expr, error) {
	ops, ok := asDoc(value)
	if !ok {
		if !isScalar(value) {
			return nil, &UnsupportedError{Field: field, Reason: "value should be a scalar or a document of operators"}
		}
		return Eq{Field: field, Value: value}, nil
	}
	if len(ops) == 0 {
		return nil, &UnsupportedError{Field: field, Reason: "empty document"}
	}

	names := make([]string, 0, len(ops))
	for k := range ops {
		names = append(names, k)
	}
	slices.Sort(names)

	exprs := make([]Expr, 0, len(names))
	for _, op := range names {
		e, err := parseOp(field, op, ops[op])
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return And{Exprs: exprs}, nil
}

func parseOp(field string, op string, value any) (Expr, error) {
	unsupported := func(reason string) error {
		return &UnsupportedError{Field: field, Operator: op, Reason: reason}
	}

	switch op {
	case "$eq":
		if !isScalar(value) {
			return nil, unsupported("scalar is required")
		}
		return Eq{Field: field, Value: value}, nil
	case "$ne":
		if isScalar(value) {
			return Not{Expr: Eq{Field: field, Value: value}}, nil
		}
		e, err := parseField(field, value)
		if err != nil {
			return nil, err
		}
		return Not{Expr: e}, nil
	case "$in", "$nin":
		values, ok := asList(value)
		if !ok {
			return nil, unsupported("list is required")
		}
		for _, v := range values {
			if v == nil || !isScalar(v) {
				return nil, unsupported("non-null scalars are required")
			}
		}
		if op == "$in" {
			return In{Field: field, Values: values}, nil
		}
		return NotIn{Field: field, Values: values}, nil
	case "$exists":
		b, ok := value.(bool)
		if !ok {
			return nil, unsupported("boolean is required")
		}
		return Exists{Field: field, Exists: b}, nil
	case "$regex":
		p, ok := value.(string)
		if !ok {
			return nil, unsupported("string is required")
		}
		return Regex{Field: field, Pattern: p}, nil
	case "$gt", "$gte", "$lt", "$lte":
		if value == nil || !isScalar(value) {
			return nil, unsupported("non-null scalar is required")
		}
		return Range{Field: field, Op: rangeOps[op], Value: value}, nil
	default:
		return nil, unsupported("unknown operator")
	}
}

var rangeOps = map[string]Op{"$gt": Gt, "$gte": Gte, "$lt": Lt, "$lte": Lte}

func isScalar(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Func, reflect.Chan, reflect.Pointer:
		return isTime(v)
	}
	return true
}

func isTime(v any) bool {
	_, ok := v.(interface{ UnixNano() int64 })
	return ok
}

func asDoc(v any) (map[string]any, bool) {
	switch d := v.(type) {
	case map[string]any:
		return d, true
	}
	return nil, false
}

func asDocs(v any) ([]map[string]any, bool) {
	switch ds := v.(type) {
	case []map[string]any:
		return ds, true
	case []any:
		out := make([]map[string]any, 0, len(ds))
		for _, d := range ds {
			m, ok := asDoc(d)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
