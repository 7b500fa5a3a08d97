package mailbox

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrLockBusy       = errors.New("mailbox lock busy")
	ErrSpoolExhausted = errors.New("spool retries exhausted")
	ErrDecodeFailure  = errors.New("decode failure")
)

// DecodeError reports a mailbox or spool file whose content could not be
// parsed. Write paths treat it as recoverable; read paths surface it.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailure
}
