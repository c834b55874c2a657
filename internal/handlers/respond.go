package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/style-suite/api/internal/platform/httpx"
	"github.com/style-suite/api/internal/platform/requestctx"
	"github.com/style-suite/api/internal/services"
)

const maxJSONBodySize = 64 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes the request body, writing a 4xx response on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	data, err := readLimitedBody(r, maxJSONBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps service error kinds to the JSON error envelope. Anything unrecognised is
// logged and answered with a generic 500.
func writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if err == nil {
		return
	}

	var productErr *services.ProductError
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operation not permitted", http.StatusForbidden))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", validationMessage(err), http.StatusBadRequest))
	case errors.As(err, &productErr) && errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for product "+productErr.ProductID, http.StatusConflict).
			WithDetails(map[string]any{"productId": productErr.ProductID, "available": productErr.Available}))
	case errors.As(err, &productErr) && errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product "+productErr.ProductID+" not found", http.StatusNotFound).
			WithDetails(map[string]any{"productId": productErr.ProductID}))
	case errors.Is(err, services.ErrOrderNumberCollision):
		logServiceError(ctx, op, err)
		httpx.WriteError(ctx, w, httpx.NewError("order_number_collision", "could not allocate an order number, retry later", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "status change not allowed", http.StatusConflict))
	case errors.Is(err, services.ErrUnavailable):
		logServiceError(ctx, op, err)
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		logServiceError(ctx, op, err)
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

// validationMessage strips the kind prefix so clients see only the field problem.
func validationMessage(err error) string {
	msg := err.Error()
	prefix := services.ErrValidation.Error() + ": "
	if idx := strings.Index(msg, prefix); idx >= 0 {
		return msg[idx+len(prefix):]
	}
	return msg
}

func logServiceError(ctx context.Context, op string, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if caller, ok := requestctx.Caller(ctx); ok {
		fields = append(fields, zap.String("caller_kind", caller.Kind))
	}
	requestctx.Logger(ctx).Error("request failed", fields...)
}
