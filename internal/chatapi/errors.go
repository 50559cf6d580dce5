package chatapi

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// TransportError reports a failed call to the history service: either the
// request never produced a response or the response was not a success.
type TransportError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s %s: unexpected status %d", e.Op, e.Method, e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %s", e.Op, e.Method, e.URL, e.Err.Error())
	}

	return fmt.Sprintf("%s: %s %s: transport error", e.Op, e.Method, e.URL)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a TransportError carrying a 404.
func IsNotFound(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode == http.StatusNotFound
	}

	return false
}
