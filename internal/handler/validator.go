package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// RequestValidator validates request bodies for echo using struct tags
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports JSON field names and knows the
// "period" (YYYY-YYYY fiscal period) and "decimal" (decimal string with at most 2 fractional digits) tags
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("period", func(fl validator.FieldLevel) bool {
		return domain.IsValidPeriod(fl.Field().String())
	})
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.Equal(d.Truncate(domain.MoneyScale))
	})

	return &RequestValidator{validate: v}
}

// Validate implements echo.Validator
func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// bindRequest binds and validates the request body into req. On failure it writes the
// Problem Details response and returns false.
func bindRequest(c echo.Context, req interface{}) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, NewValidationError(c, "Invalid request body", nil)
	}
	if err := c.Validate(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]ValidationError, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				details = append(details, ValidationError{Field: fe.Field(), Message: validationMessage(fe)})
			}
			return false, NewValidationError(c, "Validation failed", details)
		}
		return false, NewValidationError(c, err.Error(), nil)
	}
	return true, nil
}

// validationMessage returns a human-readable validation message
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "period":
		return "Must be a fiscal period in YYYY-YYYY format"
	case "decimal":
		return "Must be a decimal number with at most 2 fractional digits"
	case "datetime":
		return "Must be a date in " + fe.Param() + " format"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "gt":
		return "Must be greater than " + fe.Param()
	case "min":
		return "Must contain at least " + fe.Param() + " item(s)"
	default:
		return "Invalid value"
	}
}
