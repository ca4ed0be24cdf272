package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked is returned for a well-formed token that has been revoked,
	// individually or through an account-wide cutoff.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// VerifyError carries the reason a token was rejected. It matches ErrInvalidToken.
type VerifyError struct {
	Reason string
}

func (e VerifyError) Error() string {
	if e.Reason == "" {
		return ErrInvalidToken.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidToken.Error(), e.Reason)
}

func (e VerifyError) Unwrap() error { return ErrInvalidToken }
