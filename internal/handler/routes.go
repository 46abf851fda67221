package handler

import (
	"github.com/labstack/echo/v4"
)

// Handlers bundles every API handler for route registration
type Handlers struct {
	Dues         *DuesHandler
	Collections  *CollectionHandler
	Reports      *ReportHandler
	BillingGroup *BillingGroupHandler
	Dashboard    *DashboardHandler
	WebSocket    *WebSocketHandler
}

// RegisterRoutes sets up all API routes
func RegisterRoutes(e *echo.Echo, h Handlers) {
	// WebSocket event stream
	e.GET("/ws", h.WebSocket.HandleWS)

	// API version 1
	api := e.Group("/api/v1")

	// Dues generation routes
	dues := api.Group("/dues")
	dues.GET("/preview", h.Dues.Preview)
	dues.POST("/generate", h.Dues.Generate)
	dues.DELETE("/periods/:period", h.Dues.DeletePeriod)

	// Collection routes
	collections := api.Group("/collections")
	collections.GET("", h.Collections.List)
	collections.POST("", h.Collections.Create)
	collections.GET("/:id", h.Collections.Get)
	collections.PUT("/:id", h.Collections.Update)
	collections.DELETE("/:id", h.Collections.Delete)

	// Report routes
	reports := api.Group("/reports")
	reports.GET("/dues-debt", h.Reports.DuesDebt)

	// Billing group routes
	groups := api.Group("/billing-groups")
	groups.GET("", h.BillingGroup.List)
	groups.POST("", h.BillingGroup.Create)
	groups.GET("/:id", h.BillingGroup.Get)
	groups.PUT("/:id", h.BillingGroup.Update)
	groups.DELETE("/:id", h.BillingGroup.Deactivate)
	groups.GET("/:id/credit", h.Collections.GroupCredit)

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.GET("/summary", h.Dashboard.GetSummary)
}
