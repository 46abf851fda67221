package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// allPeriods is the period query value that disables period filtering
const allPeriods = "all"

// ReportHandler handles report HTTP requests
type ReportHandler struct {
	reportService *service.ReportService
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reportService *service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// DuesDebtRowResponse represents one row of the dues debt report
type DuesDebtRowResponse struct {
	InstallmentID    *int32 `json:"installmentId,omitempty"`
	BillingGroupID   int32  `json:"billingGroupId"`
	UnitDisplay      string `json:"unitDisplay"`
	BillingGroupName string `json:"billingGroupName"`
	DuesTypeName     string `json:"duesTypeName"`
	Period           string `json:"period"`
	Amount           string `json:"amount"`
	RemainingAmount  string `json:"remainingAmount"`
	UnitsText        string `json:"unitsText"`
}

// DuesDebtReportResponse represents the dues debt report
type DuesDebtReportResponse struct {
	Period         *string               `json:"period,omitempty"`
	Rows           []DuesDebtRowResponse `json:"rows"`
	TotalRemaining string                `json:"totalRemaining"`
}

// DuesDebt handles GET /api/v1/reports/dues-debt
func (h *ReportHandler) DuesDebt(c echo.Context) error {
	query := domain.DuesDebtReportQuery{}

	switch period := c.QueryParam("period"); period {
	case "":
		current := domain.CurrentFiscalPeriod(time.Now())
		query.Period = &current
	case allPeriods:
	default:
		query.Period = &period
	}

	var details []ValidationError
	query.BlockID = parseOptionalID(c, "blockId", &details)
	query.BillingGroupID = parseOptionalID(c, "billingGroupId", &details)
	query.DuesTypeID = parseOptionalID(c, "duesTypeId", &details)
	if len(details) > 0 {
		return NewValidationError(c, "Invalid query parameters", details)
	}

	rows, err := h.reportService.DuesDebtReport(c.Request().Context(), query)
	if err != nil {
		return handleServiceError(c, err, "Failed to build dues debt report")
	}

	total := decimal.Zero
	response := DuesDebtReportResponse{
		Period: query.Period,
		Rows:   make([]DuesDebtRowResponse, len(rows)),
	}
	for i, row := range rows {
		total = total.Add(row.RemainingAmount)
		response.Rows[i] = DuesDebtRowResponse{
			InstallmentID:    row.InstallmentID,
			BillingGroupID:   row.BillingGroupID,
			UnitDisplay:      row.UnitDisplay,
			BillingGroupName: row.BillingGroupName,
			DuesTypeName:     row.DuesTypeName,
			Period:           row.Period,
			Amount:           row.Amount.StringFixed(2),
			RemainingAmount:  row.RemainingAmount.StringFixed(2),
			UnitsText:        row.UnitsText,
		}
	}
	response.TotalRemaining = total.StringFixed(2)

	return c.JSON(http.StatusOK, response)
}

// parseOptionalID reads a positive integer query parameter; absent means nil
func parseOptionalID(c echo.Context, name string, details *[]ValidationError) *int32 {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		*details = append(*details, ValidationError{Field: name, Message: "Must be a positive integer"})
		return nil
	}
	v := int32(id)
	return &v
}
