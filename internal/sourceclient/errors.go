package sourceclient

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// ErrMissingCredentials is returned by New when a client that requires an API
// key is configured without one.
var ErrMissingCredentials = errors.New("missing API credentials")

const maxErrorBody = 300

// UpstreamError carries a non-2xx upstream response.
type UpstreamError struct {
	Client     string
	StatusCode int
	Body       string
	URL        string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	return fmt.Sprintf("%s API returned %d: %s", e.Client, e.StatusCode, body)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == http.StatusNotFound
}
