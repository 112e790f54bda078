package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode ErrorCode              `json:"error_code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	// Result carries the partial outcome of a write that failed after some
	// of its steps were applied or deferred
	Result interface{} `json:"result,omitempty"`
}

// Handler writes catalog errors as HTTP responses
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError maps err to its status and code and writes the response
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	h.HandleErrorWithResult(w, r, err, nil)
}

// HandleErrorWithResult is HandleError for writes that report a partial result
func (h *Handler) HandleErrorWithResult(w http.ResponseWriter, r *http.Request, err error, result interface{}) {
	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: GetCode(err),
		Message:   err.Error(),
		RequestID: r.Header.Get("X-Request-ID"),
		Result:    result,
	}

	var ce *CatalogError
	if stderrors.As(err, &ce) && len(ce.Details) > 0 {
		resp.Details = ce.Details
	}

	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("error_code", string(resp.ErrorCode)),
			zap.String("request_id", resp.RequestID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	h.write(w, status, resp)
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	h.write(w, statusCode, ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

// WriteValidationError writes a malformed request response
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrCodeInvalidRequest, message, requestID)
}

func (h *Handler) write(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}
