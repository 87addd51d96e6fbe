package types

import "fmt"

// ECodeMalformed is the sentinel error code attached to every request
// rejection: unknown model, malformed model directory, bad overrides.
// It deliberately does not carry HTTP semantics beyond "unprocessable
// request"; transport layers map it as they see fit.
const ECodeMalformed = 418

// GenerateOptions is the input payload for one pass generation request.
type GenerateOptions struct {
	// ModelName selects the <ModelName>.pass directory under the
	// configured models root.
	ModelName string

	// Overrides are free-form key/value candidates for the descriptor.
	// Only recognized keys survive filtering; everything else is
	// silently dropped.
	Overrides map[string]interface{}
}

// PassError is a request-level failure carrying the numeric code a
// caller needs to render a response. Retrieve it with errors.As.
type PassError struct {
	Message string
	ECode   int
	// Err is the underlying cause, when one exists.
	Err error
}

func (e *PassError) Error() string {
	return e.Message
}

// Unwrap exposes the cause so errors.Is and errors.As see through the
// envelope.
func (e *PassError) Unwrap() error {
	return e.Err
}

// NewPassError builds a PassError with the malformed-request code.
func NewPassError(format string, args ...interface{}) *PassError {
	return &PassError{
		Message: fmt.Sprintf(format, args...),
		ECode:   ECodeMalformed,
	}
}
