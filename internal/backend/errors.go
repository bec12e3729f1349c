package backend

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every failed backend request via errors.Is.
var ErrNetwork = errors.New("backend request failed")

// RequestError describes a transport failure or a non-2xx response.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *RequestError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNetwork, e.Err}
	}
	return []error{ErrNetwork}
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode == 404
}
