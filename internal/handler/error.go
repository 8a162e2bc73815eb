package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vazaro/shop/internal/domain"
	"github.com/vazaro/shop/internal/middleware"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	case domain.ENOTIMPL:
		return http.StatusNotImplemented // 501
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// errorBody is the JSON error envelope. Validation errors carry the
// per-field breakdown so the storefront can annotate the form.
type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorResponse writes an error to the client, translating the domain
// code into a status and hiding internal details. JSON clients get the
// structured envelope, everything else plain text.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	status := ErrorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"status", status,
	}
	if reqID := middleware.GetRequestID(r.Context()); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
	} else {
		logger.Info("request failed", attrs...)
	}

	if !acceptsJSON(r) {
		http.Error(w, message, status)
		return
	}

	body := errorBody{Code: code, Message: message}
	if domain.IsValidationError(err) {
		body.Fields = domain.GetValidationFields(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]errorBody{"error": body})
}

// acceptsJSON checks if the client prefers JSON responses. API routes
// default to JSON unless the client explicitly asks for HTML.
func acceptsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}
	if strings.Contains(accept, "text/html") {
		return false
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
