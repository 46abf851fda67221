package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kumburgaz/dues-backend/internal/domain"
	"github.com/kumburgaz/dues-backend/internal/service"
	"github.com/labstack/echo/v4"
)

// BillingGroupHandler handles billing group HTTP requests
type BillingGroupHandler struct {
	groupService *service.BillingGroupService
}

// NewBillingGroupHandler creates a new BillingGroupHandler
func NewBillingGroupHandler(groupService *service.BillingGroupService) *BillingGroupHandler {
	return &BillingGroupHandler{groupService: groupService}
}

// BillingGroupRequest represents the create and update billing group request body
type BillingGroupRequest struct {
	Name                 string  `json:"name" validate:"required,max=120"`
	DuesTypeID           int32   `json:"duesTypeId" validate:"required,gt=0"`
	EffectiveStartPeriod string  `json:"effectiveStartPeriod" validate:"required,period"`
	EffectiveEndPeriod   *string `json:"effectiveEndPeriod"`
	Active               *bool   `json:"active"`
	MergeUnits           bool    `json:"mergeUnits"`
	UnitIDs              []int32 `json:"unitIds" validate:"min=1,dive,gt=0"`
}

// MembershipResponse represents a unit membership in API responses
type MembershipResponse struct {
	UnitID      int32   `json:"unitId"`
	StartPeriod string  `json:"startPeriod"`
	EndPeriod   *string `json:"endPeriod,omitempty"`
}

// BillingGroupResponse represents a billing group in API responses
type BillingGroupResponse struct {
	ID                   int32                `json:"id"`
	Name                 string               `json:"name"`
	DuesTypeID           int32                `json:"duesTypeId"`
	DuesTypeName         string               `json:"duesTypeName"`
	EffectiveStartPeriod string               `json:"effectiveStartPeriod"`
	EffectiveEndPeriod   *string              `json:"effectiveEndPeriod,omitempty"`
	Active               bool                 `json:"active"`
	IsMerged             bool                 `json:"isMerged"`
	UnitsText            string               `json:"unitsText"`
	UnitDisplay          string               `json:"unitDisplay"`
	Members              []MembershipResponse `json:"members"`
	CreatedAt            string               `json:"createdAt"`
	UpdatedAt            string               `json:"updatedAt"`
}

// List handles GET /api/v1/billing-groups
func (h *BillingGroupHandler) List(c echo.Context) error {
	filter := domain.BillingGroupFilter{ActiveOnly: c.QueryParam("activeOnly") == "true"}

	groups, err := h.groupService.List(c.Request().Context(), filter)
	if err != nil {
		return handleServiceError(c, err, "Failed to get billing groups")
	}

	response := make([]BillingGroupResponse, len(groups))
	for i, group := range groups {
		response[i] = toBillingGroupResponse(group)
	}
	return c.JSON(http.StatusOK, response)
}

// Get handles GET /api/v1/billing-groups/:id
func (h *BillingGroupHandler) Get(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid billing group ID", nil)
	}

	group, err := h.groupService.Get(c.Request().Context(), int32(id))
	if err != nil {
		return handleServiceError(c, err, "Failed to get billing group")
	}
	return c.JSON(http.StatusOK, toBillingGroupResponse(group))
}

// Create handles POST /api/v1/billing-groups
func (h *BillingGroupHandler) Create(c echo.Context) error {
	var req BillingGroupRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	group, err := h.groupService.Save(c.Request().Context(), nil, req.toInput())
	if err != nil {
		return handleServiceError(c, err, "Failed to create billing group")
	}
	return c.JSON(http.StatusCreated, toBillingGroupResponse(group))
}

// Update handles PUT /api/v1/billing-groups/:id
func (h *BillingGroupHandler) Update(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid billing group ID", nil)
	}

	var req BillingGroupRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	groupID := int32(id)
	group, err := h.groupService.Save(c.Request().Context(), &groupID, req.toInput())
	if err != nil {
		return handleServiceError(c, err, "Failed to update billing group")
	}
	return c.JSON(http.StatusOK, toBillingGroupResponse(group))
}

// Deactivate handles DELETE /api/v1/billing-groups/:id
func (h *BillingGroupHandler) Deactivate(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid billing group ID", nil)
	}

	if err := h.groupService.Deactivate(c.Request().Context(), int32(id)); err != nil {
		return handleServiceError(c, err, "Failed to deactivate billing group")
	}
	return c.NoContent(http.StatusNoContent)
}

func (r BillingGroupRequest) toInput() domain.BillingGroupInput {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return domain.BillingGroupInput{
		Name:                 r.Name,
		DuesTypeID:           r.DuesTypeID,
		EffectiveStartPeriod: r.EffectiveStartPeriod,
		EffectiveEndPeriod:   r.EffectiveEndPeriod,
		Active:               active,
		MergeUnits:           r.MergeUnits,
		UnitIDs:              r.UnitIDs,
	}
}

func toBillingGroupResponse(group *domain.BillingGroupDetail) BillingGroupResponse {
	resp := BillingGroupResponse{
		ID:                   group.ID,
		Name:                 group.Name,
		DuesTypeID:           group.DuesTypeID,
		DuesTypeName:         group.DuesTypeName,
		EffectiveStartPeriod: group.EffectiveStartPeriod,
		EffectiveEndPeriod:   group.EffectiveEndPeriod,
		Active:               group.Active,
		IsMerged:             group.IsMerged,
		UnitsText:            group.UnitsText,
		UnitDisplay:          group.UnitDisplay,
		Members:              make([]MembershipResponse, len(group.Members)),
		CreatedAt:            group.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            group.UpdatedAt.Format(time.RFC3339),
	}
	for i, m := range group.Members {
		resp.Members[i] = MembershipResponse{UnitID: m.UnitID, StartPeriod: m.StartPeriod, EndPeriod: m.EndPeriod}
	}
	return resp
}
