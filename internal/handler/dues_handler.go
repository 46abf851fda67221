package handler

import (
	"net/http"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// DuesHandler handles dues generation HTTP requests
type DuesHandler struct {
	generationService *service.DuesGenerationService
}

// NewDuesHandler creates a new DuesHandler
func NewDuesHandler(generationService *service.DuesGenerationService) *DuesHandler {
	return &DuesHandler{generationService: generationService}
}

// DuesPreviewItemResponse represents one group of a generation preview
type DuesPreviewItemResponse struct {
	BillingGroupID   int32  `json:"billingGroupId"`
	BillingGroupName string `json:"billingGroupName"`
	DuesTypeName     string `json:"duesTypeName"`
	Amount           string `json:"amount"`
	UnitsText        string `json:"unitsText"`
}

// DuesPreviewResponse represents the generation preview of a period
type DuesPreviewResponse struct {
	Period  string                    `json:"period"`
	DueDate string                    `json:"dueDate"`
	Items   []DuesPreviewItemResponse `json:"items"`
}

// GenerateDuesRequest represents the generate dues request body
type GenerateDuesRequest struct {
	Period  string  `json:"period" validate:"required,period"`
	DueDate *string `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
}

// DeletePeriodResponse reports how many installments a period delete removed
type DeletePeriodResponse struct {
	Period  string `json:"period"`
	Deleted int    `json:"deleted"`
}

// Preview handles GET /api/v1/dues/preview
func (h *DuesHandler) Preview(c echo.Context) error {
	period := c.QueryParam("period")
	if period == "" {
		period = domain.CurrentFiscalPeriod(time.Now())
	}

	items, err := h.generationService.Preview(c.Request().Context(), period)
	if err != nil {
		return handleServiceError(c, err, "Failed to preview dues")
	}
	dueDate, err := h.generationService.DefaultDueDate(period)
	if err != nil {
		return handleServiceError(c, err, "Failed to preview dues")
	}

	response := DuesPreviewResponse{
		Period:  period,
		DueDate: dueDate.Format("2006-01-02"),
		Items:   make([]DuesPreviewItemResponse, len(items)),
	}
	for i, item := range items {
		response.Items[i] = DuesPreviewItemResponse{
			BillingGroupID:   item.BillingGroupID,
			BillingGroupName: item.BillingGroupName,
			DuesTypeName:     item.DuesTypeName,
			Amount:           item.Amount.StringFixed(2),
			UnitsText:        item.UnitsText,
		}
	}

	return c.JSON(http.StatusOK, response)
}

// Generate handles POST /api/v1/dues/generate
func (h *DuesHandler) Generate(c echo.Context) error {
	var req GenerateDuesRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	var dueDate *time.Time
	if req.DueDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			return NewValidationError(c, "Invalid due date", []ValidationError{
				{Field: "dueDate", Message: "Must be a date in 2006-01-02 format"},
			})
		}
		dueDate = &parsed
	}

	result, err := h.generationService.Generate(c.Request().Context(), req.Period, dueDate)
	if err != nil {
		return handleServiceError(c, err, "Failed to generate dues")
	}

	log.Info().Str("period", result.Period).Int("created", result.Created).Int("skipped", result.Skipped).Msg("Dues generation requested")

	return c.JSON(http.StatusOK, result)
}

// DeletePeriod handles DELETE /api/v1/dues/periods/:period
func (h *DuesHandler) DeletePeriod(c echo.Context) error {
	period := c.Param("period")

	deleted, err := h.generationService.DeleteForPeriod(c.Request().Context(), period)
	if err != nil {
		return handleServiceError(c, err, "Failed to delete dues")
	}

	return c.JSON(http.StatusOK, DeletePeriodResponse{Period: period, Deleted: deleted})
}
