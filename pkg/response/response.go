package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vendora/escrow-api/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeDuplicateResource   = "DUPLICATE_RESOURCE"
	ErrCodeInsufficientEscrow  = "INSUFFICIENT_ESCROW_BALANCE"
	ErrCodeNoApplicableRule    = "NO_APPLICABLE_RULE"
	ErrCodeAlreadySettled      = "ALREADY_SETTLED"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeProviderError       = "PROVIDER_ERROR"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, types.ErrValidation):
		errorResponse(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, types.ErrNotAuthorized):
		errorResponse(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, types.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		errorResponse(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, types.ErrDuplicateHold):
		errorResponse(c, http.StatusConflict, ErrCodeDuplicateResource, err.Error())
	case errors.Is(err, types.ErrAlreadySettled):
		errorResponse(c, http.StatusConflict, ErrCodeAlreadySettled, err.Error())
	case errors.Is(err, types.ErrConcurrencyConflict):
		errorResponse(c, http.StatusConflict, ErrCodeConcurrencyConflict, err.Error())
	case errors.Is(err, types.ErrInsufficientEscrowBalance):
		errorResponse(c, http.StatusUnprocessableEntity, ErrCodeInsufficientEscrow, err.Error())
	case errors.Is(err, types.ErrEntryDisbursed):
		errorResponse(c, http.StatusUnprocessableEntity, ErrCodeInsufficientEscrow, err.Error())
	case errors.Is(err, types.ErrNoApplicableRule):
		errorResponse(c, http.StatusUnprocessableEntity, ErrCodeNoApplicableRule, err.Error())
	case errors.Is(err, types.ErrProviderTransient), errors.Is(err, types.ErrProviderPermanent):
		errorResponse(c, http.StatusBadGateway, ErrCodeProviderError, err.Error())
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	errorResponse(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	errorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	errorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	errorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	errorResponse(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
