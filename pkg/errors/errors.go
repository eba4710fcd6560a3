// Error wrapper remembering where it is created.
//
// Usage:
//
//	wrapped := xe.Wrap(err)
//
// `wrapped` knows filename, line, and the name of function where itself is created.
//
// Messages of nested wrappers are joined with " <- ", so
//
//	s/ <- /\n/
//
// gives you a "stack" of where errors are passed through.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

type ErrWithCaller struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *ErrWithCaller) File() string {
	return e.file
}

func (e *ErrWithCaller) Line() int {
	return e.line
}

// Note returns the note passed with WrapWithNote, or empty string.
func (e *ErrWithCaller) Note() string {
	return e.note
}

func (e *ErrWithCaller) Error() string {
	where := fmt.Sprintf(`@ %s "%s" l%d`, e.funcname, e.file, e.line)
	if e.note != "" {
		where += " (" + e.note + ")"
	}
	return where + " <- " + e.err.Error()
}

func (e *ErrWithCaller) Unwrap() error {
	return e.err
}

func New(text string) error {
	return wrap("", errors.New(text), 1)
}

// Wrap err with the location of the caller.
//
// If err is nil, it returns nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return wrap("", err, 1)
}

// WrapAsOuter wraps err with the location of the caller of the caller.
//
// depth = 0 is same as Wrap.
func WrapAsOuter(err error, depth int) error {
	if err == nil {
		return nil
	}
	return wrap("", err, depth+1)
}

func WrapWithNote(note string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(note, err, 1)
}

func wrap(note string, err error, depth int) error {
	funcname := "(unknown func)"
	pc, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		file = "?"
		line = -1
	} else if fn := runtime.FuncForPC(pc); fn != nil {
		funcname = fn.Name()
	}

	return &ErrWithCaller{
		funcname: funcname,
		file:     file,
		line:     line,
		note:     note,
		err:      err,
	}
}
