package queue

import "errors"

// TerminalError marks a job failure that retrying cannot fix, such as an
// unsupported content type or a malformed submission. The job fails
// immediately without consuming its remaining attempts.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps err so the worker fails the job without retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err carries a TerminalError anywhere in its
// chain.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
