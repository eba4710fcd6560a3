package postgres

import (
	"fmt"

	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	domerr "github.com/opst/xtstore/pkg/domain/errors"
)

// requested data is missing.
type Missing struct {
	Table    string
	Identity string
}

var _ error = Missing{}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}

func (m Missing) Unwrap() error {
	return domerr.ErrMissing
}

// requested data is found too much.
type TooMuch struct {
	Table    string
	Identity string
	Expected int
}

var _ error = TooMuch{}

func (t TooMuch) Error() string {
	return fmt.Sprintf(
		"%s is found in %s more than %d times",
		t.Identity, t.Table, t.Expected,
	)
}

func (t TooMuch) Unwrap() error {
	return domerr.ErrTooMuch
}

// table is not in the database.
type UnknownTable struct {
	Table string
}

var _ error = UnknownTable{}

func (u UnknownTable) Error() string {
	return fmt.Sprintf("table %s is unknown", u.Table)
}

func (u UnknownTable) Unwrap() error {
	return executor.ErrConfiguration
}

// column is not in the table, and the table cannot grow.
type UnknownColumn struct {
	Table  string
	Column string
}

var _ error = UnknownColumn{}

func (u UnknownColumn) Error() string {
	return fmt.Sprintf("column %s is unknown in %s", u.Column, u.Table)
}

func (u UnknownColumn) Unwrap() error {
	return executor.ErrConfiguration
}

// value cannot be stored in the column.
type TypeMismatch struct {
	Table  string
	Column string
	Type   string
	Value  any
}

var _ error = TypeMismatch{}

func (m TypeMismatch) Error() string {
	return fmt.Sprintf(
		"%s.%s is %s, but %T (%v) is given",
		m.Table, m.Column, m.Type, m.Value, m.Value,
	)
}

func (m TypeMismatch) Unwrap() error {
	return executor.ErrConfiguration
}
