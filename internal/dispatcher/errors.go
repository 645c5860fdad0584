package dispatcher

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired matches a RequestError carrying a 401. By the time the
// caller sees it the local session has already been signed out.
var ErrSessionExpired = errors.New("session expired")

// RequestError is a non-2xx response from the backend.
type RequestError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	if len(e.Body) > 0 {
		msg += ": " + string(e.Body)
	}
	return msg
}

func (e *RequestError) Is(target error) bool {
	return target == ErrSessionExpired && e.Status == http.StatusUnauthorized
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
