package controller

import "fmt"

// TypeConversionError reports a type string that the local tool could
// not resolve even after a struct fill. The variable keeps its name
// sync; only the type is skipped.
type TypeConversionError struct {
	Type string
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("type %q not convertible in this tool", e.Type)
}

// ApplyError wraps a failure inside one apply operation, keeping the
// operation and source user for the log surface.
type ApplyError struct {
	Op   string
	User string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("applying %s from %s: %v", e.Op, e.User, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
