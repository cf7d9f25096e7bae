package rabbitmq

import (
	"errors"
	"strings"
)

// ErrManagerClosed is returned when the connection manager has been shut
// down and will not reconnect.
var ErrManagerClosed = errors.New("rabbitmq: connection manager closed")

// SanitizeURL strips credentials from a broker URL before logging.
func SanitizeURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "//")
	if scheme < 0 || scheme > at {
		return url
	}
	return url[:scheme+2] + "***" + url[at:]
}
