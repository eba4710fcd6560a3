// Package filter is the abstract syntax of query filters.
//
// Filters are written in Mongo-like documents, like
//
//	{"status": {"$in": ["running", "queued"]}, "hparams.lr": {"$gt": 0.01}}
//
// and are parsed into Expr, which are compiled into SQL.
package filter

import "errors"

// ErrUnsupportedFilter is the root of UnsupportedError.
var ErrUnsupportedFilter = errors.New("unsupported filter")

// UnsupportedError is returned for operators or values which cannot be parsed.
type UnsupportedError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *UnsupportedError) Error() string {
	msg := "unsupported filter"
	if e.Field != "" {
		msg += " on " + e.Field
	}
	if e.Operator != "" {
		msg += " (" + e.Operator + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupportedFilter
}

// Expr is a node of filter.
//
// It is one of Eq, In, NotIn, Exists, Regex, Range, Not, Or and And.
type Expr interface {
	expr()
}

// Field equals Value. nil Value means the field is NULL.
type Eq struct {
	Field string
	Value any
}

// Field is one of Values.
type In struct {
	Field  string
	Values []any
}

// Field is none of Values.
type NotIn struct {
	Field  string
	Values []any
}

// Field is (not) NULL.
type Exists struct {
	Field  string
	Exists bool
}

// Field matches Pattern.
//
// Only ".*" is supported as wildcard. Other characters match themselves.
type Regex struct {
	Field   string
	Pattern string
}

type Op int

const (
	Gt Op = iota
	Gte
	Lt
	Lte
)

func (o Op) String() string {
	switch o {
	case Gt:
		return ">"
	case Gte:
		return ">="
	case Lt:
		return "<"
	case Lte:
		return "<="
	default:
		return "?"
	}
}

// Field compared with Value by Op.
type Range struct {
	Field string
	Op    Op
	Value any
}

type Not struct {
	Expr Expr
}

// Any of Exprs. Empty Or is false.
type Or struct {
	Exprs []Expr
}

// All of Exprs. Empty And is true.
type And struct {
	Exprs []Expr
}

func (Eq) expr()     {}
func (In) expr()     {}
func (NotIn) expr()  {}
func (Exists) expr() {}
func (Regex) expr()  {}
func (Range) expr()  {}
func (Not) expr()    {}
func (Or) expr()     {}
func (And) expr()    {}

// Fields returns field names referred in expr, in order of appearance without duplication.
func Fields(expr Expr) []string {
	seen := map[string]struct{}{}
	out := []string{}
	Walk(expr, func(field string) {
		if _, ok := seen[field]; ok {
			return
		}
		seen[field] = struct{}{}
		out = append(out, field)
	})
	return out
}

// Walk calls f for each field referred in expr.
func Walk(expr Expr, f func(field string)) {
	switch e := expr.(type) {
	case Eq:
		f(e.Field)
	case In:
		f(e.Field)
	case NotIn:
		f(e.Field)
	case Exists:
		f(e.Field)
	case Regex:
		f(e.Field)
	case Range:
		f(e.Field)
	case Not:
		Walk(e.Expr, f)
	case Or:
		for _, sub := range e.Exprs {
			Walk(sub, f)
		}
	case And:
		for _, sub := range e.Exprs {
			Walk(sub, f)
		}
	}
}

// Pins tells expr requires field to be equal to a value, at the top level conjunction.
func Pins(expr Expr, field string) bool {
	switch e := expr.(type) {
	case Eq:
		return e.Field == field && e.Value != nil
	case And:
		for _, sub := range e.Exprs {
			if Pins(sub, field) {
				return true
			}
		}
	}
	return false
}

// Conj joins exprs with And, flattening nested Ands.
func Conj(exprs ...Expr) Expr {
	out := []Expr{}
	for _, e := range exprs {
		switch e := e.(type) {
		case nil:
		case And:
			out = append(out, e.Exprs...)
		default:
			out = append(out, e)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return And{Exprs: out}
}
