package backend

import (
	"errors"
	"fmt"
	"net/http"
)

type Class string

const (
	ClassConfig      Class = "config"
	ClassTransport   Class = "transport"
	ClassRejected    Class = "rejected"
	ClassRateLimited Class = "rate-limited"
	ClassServer      Class = "server"
	ClassUnavailable Class = "unavailable"
	ClassDecode      Class = "decode"
)

// Error is the classified failure of one gateway call. Body holds the raw
// backend answer for logs; it is not meant for end users.
type Error struct {
	Op         string
	StatusCode int
	Class      Class
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("backend %s: %s (%d): %v", e.Op, e.Class, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("backend %s: %s (%d)", e.Op, e.Class, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("backend %s: %s: %v", e.Op, e.Class, e.Err)
	default:
		return fmt.Sprintf("backend %s: %s", e.Op, e.Class)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf reports the class of a gateway error, or "" for foreign errors.
func ClassOf(err error) Class {
	var be *Error
	if errors.As(err, &be) {
		return be.Class
	}
	return ""
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimited
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return ClassUnavailable
	case code >= 500:
		return ClassServer
	default:
		return ClassRejected
	}
}

// transientForStatus maps the HTTP statuses the status endpoint answers while
// a job is merely delayed.
func transientForStatus(code int) (TransientReason, bool) {
	switch code {
	case http.StatusTooManyRequests:
		return TransientRateLimited, true
	case http.StatusNotFound:
		return TransientJobNotVisible, true
	case http.StatusInternalServerError:
		return TransientBackendError, true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return TransientUnavailable, true
	}
	return TransientNone, false
}
