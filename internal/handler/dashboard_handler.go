package handler

import (
	"net/http"

	"github.com/kumburgaz/dues-backend/internal/service"
	"github.com/labstack/echo/v4"
)

// DashboardHandler handles dashboard-related HTTP requests
type DashboardHandler struct {
	dashboardService *service.DashboardService
}

// NewDashboardHandler creates a new DashboardHandler
func NewDashboardHandler(dashboardService *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: dashboardService,
	}
}

// DashboardSummaryResponse represents the dashboard summary API response
type DashboardSummaryResponse struct {
	TotalDebt           string `json:"totalDebt"`
	TotalGenerated      string `json:"totalGenerated"`
	TotalCollections    string `json:"totalCollections"`
	TotalCredit         string `json:"totalCredit"`
	ActiveBillingGroups int    `json:"activeBillingGroups"`
}

// GetSummary handles GET /api/v1/dashboard/summary
func (h *DashboardHandler) GetSummary(c echo.Context) error {
	summary, err := h.dashboardService.Summary(c.Request().Context())
	if err != nil {
		return handleServiceError(c, err, "Failed to get dashboard summary")
	}

	return c.JSON(http.StatusOK, DashboardSummaryResponse{
		TotalDebt:           summary.TotalDebt.StringFixed(2),
		TotalGenerated:      summary.TotalGenerated.StringFixed(2),
		TotalCollections:    summary.TotalCollections.StringFixed(2),
		TotalCredit:         summary.TotalCredit.StringFixed(2),
		ActiveBillingGroups: summary.ActiveBillingGroups,
	})
}
