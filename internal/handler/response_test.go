package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/labstack/echo/v4"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"collection not found", domain.ErrCollectionNotFound, http.StatusNotFound, ErrorTypeNotFound},
		{"wrapped group not found", fmt.Errorf("load: %w", domain.ErrBillingGroupNotFound), http.StatusNotFound, ErrorTypeNotFound},
		{"invalid period", domain.ErrInvalidPeriodFormat, http.StatusBadRequest, ErrorTypeValidation},
		{"unit not in group", domain.ErrUnitNotInGroup, http.StatusBadRequest, ErrorTypeValidation},
		{"group has no units", domain.ErrGroupHasNoUnits, http.StatusBadRequest, ErrorTypeValidation},
		{"period conflict", &domain.PeriodConflictError{Period: "2025-2026", AllocatedInstallments: 2}, http.StatusConflict, ErrorTypeConflict},
		{"unsplittable legacy", &domain.UnsplittableInstallmentError{InstallmentID: 1, Period: "2025-2026"}, http.StatusConflict, ErrorTypeConflict},
		{"duplicate installment", domain.ErrDuplicateInstallment, http.StatusConflict, ErrorTypeConflict},
		{"transient", fmt.Errorf("%w: deadlock detected", domain.ErrTransientFailure), http.StatusServiceUnavailable, ErrorTypeUnavailable},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/dues/generate", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := handleServiceError(c, tt.err, "Failed to generate dues"); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var problem ProblemDetails
			decodeJSON(t, rec, &problem)
			if problem.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, problem.Type)
			}
			if problem.Instance != "/api/v1/dues/generate" {
				t.Errorf("Expected instance path, got %s", problem.Instance)
			}
		})
	}
}

func TestHandleServiceError_ConflictDetailNamesPeriod(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/dues/periods/2025-2026", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = handleServiceError(c, &domain.PeriodConflictError{Period: "2025-2026", AllocatedInstallments: 3}, "Failed to delete dues")

	var problem ProblemDetails
	decodeJSON(t, rec, &problem)
	want := "period 2025-2026 has 3 installment(s) with applied payments; delete or edit those collections first"
	if problem.Detail != want {
		t.Errorf("Expected detail %q, got %q", want, problem.Detail)
	}
}
