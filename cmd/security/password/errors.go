package password

import (
	"errors"
	"fmt"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
	ErrConfig           = errors.New("invalid password config")
)

// EnvError reports which environment variable could not be applied.
type EnvError struct {
	Key    string
	Detail string
}

func (e EnvError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Detail)
}

func (e EnvError) Unwrap() error { return ErrConfig }
