package ari

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidDestination адрес назначения нельзя превратить в dial string
var ErrInvalidDestination = errors.New("некорректный адрес назначения")

// HTTPError ответ ARI с не-2xx статусом
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("ARI HTTP %d %s (%s %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Method, e.Path)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func statusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsNotFound канал или мост уже не существует
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}
