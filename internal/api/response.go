package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/briefly/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain and pipeline errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domain.ErrCodeValidation:
			return http.StatusBadRequest
		case domain.ErrCodeNotFound:
			return http.StatusNotFound
		case domain.ErrCodeAlreadyExists:
			return http.StatusConflict
		case domain.ErrCodeUnauthorized:
			return http.StatusUnauthorized
		case domain.ErrCodeForbidden:
			return http.StatusForbidden
		case domain.ErrCodeInvalidOperation:
			return http.StatusConflict
		case domain.ErrCodeUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}

	var ingestErr *domain.IngestError
	if errors.As(err, &ingestErr) {
		switch ingestErr.Kind {
		case domain.KindExtraction, domain.KindChunking:
			return http.StatusUnprocessableEntity
		case domain.KindSyncProvider, domain.KindSourceFetch, domain.KindEmbeddingProvider:
			return http.StatusBadGateway
		}
		if ingestErr.Retryable {
			return http.StatusServiceUnavailable
		}
	}

	return http.StatusInternalServerError
}

// HandleError writes an appropriate error response based on the error type.
// Internal errors are reported without their cause.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	resp := ErrorResponse{Error: err.Error(), Kind: string(domain.KindOf(err))}
	if status == http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
	}
	JSON(w, status, resp)
}
