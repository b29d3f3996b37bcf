package guard

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Header names set on guarded responses.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Rejection is the JSON body of a 429 response.
type Rejection struct {
	Message string `json:"message"`
	Limited bool   `json:"limited"`
	// RemainingTime is the wait in milliseconds.
	RemainingTime     int64 `json:"remainingTime"`
	RemainingAttempts int   `json:"remainingAttempts"`
}

// Unauthorized is the JSON body of a 401 response.
type Unauthorized struct {
	Message string `json:"message"`
}

// NewRejection builds the 429 body for a rejected decision.
func NewRejection(d Decision) Rejection {
	msg := d.Result.Message
	if msg == "" {
		msg = "Too many requests."
	}
	return Rejection{
		Message:           msg,
		Limited:           true,
		RemainingTime:     d.Result.ResetAfter.Milliseconds(),
		RemainingAttempts: 0,
	}
}

// NewUnauthorized builds the 401 body.
func NewUnauthorized() Unauthorized {
	return Unauthorized{Message: "Authentication required"}
}

// StatusCode maps a verdict to its HTTP status.
func StatusCode(d Decision) int {
	switch d.Verdict {
	case Reject:
		return http.StatusTooManyRequests
	case Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusOK
	}
}

// Body returns the JSON payload for a non-proceeding decision.
func Body(d Decision) any {
	if d.Verdict == Unauthenticated {
		return NewUnauthorized()
	}
	return NewRejection(d)
}

// RetryAfter returns the Retry-After value in whole seconds, at least 1.
func RetryAfter(d Decision) int {
	retryAfter := int(math.Ceil(d.Result.ResetAfter.Seconds()))
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return retryAfter
}

// ApplyHeaders sets the X-RateLimit-* headers for a proceeding decision.
//
// The reset header is now plus the policy window as RFC 3339. It approximates the reset and
// is not the calendar-day boundary. Degraded decisions carry no headers.
func ApplyHeaders(h http.Header, d Decision, now time.Time) {
	if d.Degraded || d.Verdict != Proceed {
		return
	}
	q := d.Quota(now)
	h.Set(HeaderLimit, strconv.Itoa(q.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(q.Remaining))
	h.Set(HeaderReset, q.Reset.UTC().Format(time.RFC3339))
}

// WriteRejection is the default ErrorHandler. It writes the JSON payload for d with its
// status code, plus Retry-After on 429.
func WriteRejection(w http.ResponseWriter, r *http.Request, err error, d Decision) {
	if d.Verdict == Reject {
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(RetryAfter(d)))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(StatusCode(d))
	_ = json.NewEncoder(w).Encode(Body(d))
}
