package plant

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
)

// OpError carries the failing operation and a sentinel kind.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func invalid(op, msg string) error  { return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg} }
func notFound(op, msg string) error { return OpError{Op: op, Kind: ErrNotFound, Msg: msg} }
func conflict(op, msg string) error { return OpError{Op: op, Kind: ErrConflict, Msg: msg} }
