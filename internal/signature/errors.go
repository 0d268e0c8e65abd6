package signature

import (
	"errors"
	"fmt"
)

// Reasons a header is rejected. Match them with errors.Is.
var (
	ErrMalformed = errors.New("malformed header")
	ErrStale     = errors.New("timestamp outside tolerance")
	ErrMismatch  = errors.New("signature mismatch")
)

// VerificationError reports why a signature header was rejected.
type VerificationError struct {
	Reason error
	Detail string
}

func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", Header, e.Reason)
	}
	return fmt.Sprintf("%s: %v: %s", Header, e.Reason, e.Detail)
}

func (e *VerificationError) Unwrap() error { return e.Reason }

func reject(reason error, detail string) error {
	return &VerificationError{Reason: reason, Detail: detail}
}
