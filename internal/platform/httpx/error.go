package httpx

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/style-suite/api/internal/platform/requestctx"
	"github.com/style-suite/api/internal/platform/textutil"
)

const (
	maxCodeRunes    = 80
	maxMessageRunes = 512
	maxIDRunes      = 80
)

// Error is the JSON error body shared by every route:
//
//	{"error": "<code>", "message": "...", "status": 409, "requestId": "...", "traceId": "...", ...details}
//
// Details are merged into the top level so clients can read fields such as productId directly.
type Error struct {
	Code       string
	Message    string
	Status     int
	Details    map[string]any
	RetryAfter time.Duration
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    textutil.CleanText(code, maxCodeRunes),
		Message: textutil.CleanText(message, maxMessageRunes),
		Status:  status,
	}
}

// Error implements error so handlers can pass an Error through ordinary error paths.
func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithDetails copies details into the body. Keys colliding with the envelope fields are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithRetryAfter sets the Retry-After header in whole seconds, never less than one.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WriteError writes err as JSON, tagging it with the chi request id and the trace id when present.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if id := textutil.CleanText(middleware.GetReqID(ctx), maxIDRunes); id != "" {
		payload["requestId"] = id
	}
	if id := textutil.CleanText(requestctx.TraceID(ctx), maxIDRunes); id != "" {
		payload["traceId"] = id
	}

	if err.RetryAfter > 0 {
		seconds := int(math.Ceil(err.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
