package handler

import (
	"errors"
	"net/http"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error types
const (
	ErrorTypeValidation  = "https://kumburgaz.app/errors/validation"
	ErrorTypeNotFound    = "https://kumburgaz.app/errors/not-found"
	ErrorTypeConflict    = "https://kumburgaz.app/errors/conflict"
	ErrorTypeUnavailable = "https://kumburgaz.app/errors/unavailable"
	ErrorTypeInternal    = "https://kumburgaz.app/errors/internal"
)

// NewValidationError creates a validation error response
func NewValidationError(c echo.Context, detail string, errors []ValidationError) error {
	return c.JSON(http.StatusBadRequest, ProblemDetails{
		Type:     ErrorTypeValidation,
		Title:    "Validation Error",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		Errors:   errors,
	})
}

// NewNotFoundError creates a not found error response
func NewNotFoundError(c echo.Context, detail string) error {
	return c.JSON(http.StatusNotFound, ProblemDetails{
		Type:     ErrorTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewConflictError creates a conflict error response
func NewConflictError(c echo.Context, detail string) error {
	return c.JSON(http.StatusConflict, ProblemDetails{
		Type:     ErrorTypeConflict,
		Title:    "Conflict",
		Status:   http.StatusConflict,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewServiceUnavailableError creates a retryable error response
func NewServiceUnavailableError(c echo.Context, detail string) error {
	c.Response().Header().Set("Retry-After", "1")
	return c.JSON(http.StatusServiceUnavailable, ProblemDetails{
		Type:     ErrorTypeUnavailable,
		Title:    "Service Unavailable",
		Status:   http.StatusServiceUnavailable,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewInternalError creates an internal error response
func NewInternalError(c echo.Context, detail string) error {
	return c.JSON(http.StatusInternalServerError, ProblemDetails{
		Type:     ErrorTypeInternal,
		Title:    "Internal Server Error",
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// handleServiceError maps a service error to its Problem Details response.
// Unexpected errors are logged and reported as failMsg.
func handleServiceError(c echo.Context, err error, failMsg string) error {
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound),
		errors.Is(err, domain.ErrBillingGroupNotFound),
		errors.Is(err, domain.ErrNotFound):
		return NewNotFoundError(c, err.Error())
	case errors.Is(err, domain.ErrUnsplittableLegacyInstallment),
		errors.Is(err, domain.ErrPeriodHasAllocatedPayments),
		errors.Is(err, domain.ErrDuplicateInstallment):
		return NewConflictError(c, err.Error())
	case errors.Is(err, domain.ErrTransientFailure):
		log.Warn().Err(err).Str("path", c.Request().URL.Path).Msg("Transient storage failure")
		return NewServiceUnavailableError(c, err.Error())
	}

	if field, ok := validationField(err); ok {
		return NewValidationError(c, "Validation failed", []ValidationError{
			{Field: field, Message: err.Error()},
		})
	}

	log.Error().Err(err).Str("path", c.Request().URL.Path).Msg(failMsg)
	return NewInternalError(c, failMsg)
}

// validationField names the request field a user-correctable error refers to.
func validationField(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrInvalidPeriodFormat):
		return "period", true
	case errors.Is(err, domain.ErrInvalidAmount):
		return "amount", true
	case errors.Is(err, domain.ErrUnitNotInGroup), errors.Is(err, domain.ErrUnitNotFound):
		return "unitId", true
	case errors.Is(err, domain.ErrGroupHasNoUnits), errors.Is(err, domain.ErrNoUnitsSelected):
		return "unitIds", true
	case errors.Is(err, domain.ErrInvalidPaymentChannel):
		return "paymentChannel", true
	case errors.Is(err, domain.ErrCollectionReferenceTooLong):
		return "referenceNo", true
	case errors.Is(err, domain.ErrCollectionNoteTooLong):
		return "note", true
	case errors.Is(err, domain.ErrNameRequired), errors.Is(err, domain.ErrNameTooLong):
		return "name", true
	case errors.Is(err, domain.ErrDuesTypeNotFound):
		return "duesTypeId", true
	case errors.Is(err, domain.ErrInvalidInput):
		return "", true
	}
	return "", false
}
