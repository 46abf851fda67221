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

// CollectionHandler handles collection-related HTTP requests
type CollectionHandler struct {
	collectionService *service.CollectionService
}

// NewCollectionHandler creates a new CollectionHandler
func NewCollectionHandler(collectionService *service.CollectionService) *CollectionHandler {
	return &CollectionHandler{collectionService: collectionService}
}

// CollectionRequest represents the create and update collection request body
type CollectionRequest struct {
	BillingGroupID int32   `json:"billingGroupId" validate:"required,gt=0"`
	UnitID         *int32  `json:"unitId" validate:"omitempty,gt=0"`
	Date           string  `json:"date" validate:"required,datetime=2006-01-02"`
	Amount         string  `json:"amount" validate:"required,decimal"`
	PaymentChannel string  `json:"paymentChannel" validate:"required,oneof=cash bank"`
	ReferenceNo    *string `json:"referenceNo" validate:"omitempty,max=80"`
	Note           *string `json:"note" validate:"omitempty,max=250"`
}

// AllocationResponse represents the part of a collection applied to one installment
type AllocationResponse struct {
	InstallmentID int32  `json:"installmentId"`
	AppliedAmount string `json:"appliedAmount"`
}

// CollectionResponse represents a collection in API responses
type CollectionResponse struct {
	ID              int32                `json:"id"`
	BillingGroupID  int32                `json:"billingGroupId"`
	UnitID          int32                `json:"unitId"`
	Date            string               `json:"date"`
	Amount          string               `json:"amount"`
	AllocatedAmount string               `json:"allocatedAmount"`
	Credit          string               `json:"credit"`
	PaymentChannel  string               `json:"paymentChannel"`
	ReferenceNo     *string              `json:"referenceNo,omitempty"`
	Note            *string              `json:"note,omitempty"`
	Allocations     []AllocationResponse `json:"allocations"`
	CreatedAt       string               `json:"createdAt"`
	UpdatedAt       string               `json:"updatedAt"`
}

// GroupCreditResponse represents the unapplied balance of a billing group
type GroupCreditResponse struct {
	BillingGroupID int32  `json:"billingGroupId"`
	Credit         string `json:"credit"`
}

// List handles GET /api/v1/collections
func (h *CollectionHandler) List(c echo.Context) error {
	collections, err := h.collectionService.List(c.Request().Context())
	if err != nil {
		return handleServiceError(c, err, "Failed to get collections")
	}

	response := make([]CollectionResponse, len(collections))
	for i, collection := range collections {
		response[i] = toCollectionResponse(collection)
	}
	return c.JSON(http.StatusOK, response)
}

// Get handles GET /api/v1/collections/:id
func (h *CollectionHandler) Get(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid collection ID", nil)
	}

	collection, err := h.collectionService.Get(c.Request().Context(), int32(id))
	if err != nil {
		return handleServiceError(c, err, "Failed to get collection")
	}
	return c.JSON(http.StatusOK, toCollectionResponse(collection))
}

// Create handles POST /api/v1/collections
func (h *CollectionHandler) Create(c echo.Context) error {
	input, ok, err := h.bindInput(c)
	if !ok {
		return err
	}

	collection, err := h.collectionService.Create(c.Request().Context(), input)
	if err != nil {
		return handleServiceError(c, err, "Failed to create collection")
	}
	return c.JSON(http.StatusCreated, toCollectionResponse(collection))
}

// Update handles PUT /api/v1/collections/:id
func (h *CollectionHandler) Update(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid collection ID", nil)
	}

	input, ok, err := h.bindInput(c)
	if !ok {
		return err
	}

	collection, err := h.collectionService.Update(c.Request().Context(), int32(id), input)
	if err != nil {
		return handleServiceError(c, err, "Failed to update collection")
	}
	return c.JSON(http.StatusOK, toCollectionResponse(collection))
}

// Delete handles DELETE /api/v1/collections/:id
func (h *CollectionHandler) Delete(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid collection ID", nil)
	}

	if err := h.collectionService.Delete(c.Request().Context(), int32(id)); err != nil {
		return handleServiceError(c, err, "Failed to delete collection")
	}
	return c.NoContent(http.StatusNoContent)
}

// GroupCredit handles GET /api/v1/billing-groups/:id/credit
func (h *CollectionHandler) GroupCredit(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid billing group ID", nil)
	}

	credit, err := h.collectionService.GroupCredit(c.Request().Context(), int32(id))
	if err != nil {
		return handleServiceError(c, err, "Failed to get billing group credit")
	}
	return c.JSON(http.StatusOK, GroupCreditResponse{BillingGroupID: int32(id), Credit: credit.StringFixed(2)})
}

func (h *CollectionHandler) bindInput(c echo.Context) (domain.CollectionInput, bool, error) {
	var req CollectionRequest
	if ok, err := bindRequest(c, &req); !ok {
		return domain.CollectionInput{}, false, err
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return domain.CollectionInput{}, false, NewValidationError(c, "Invalid date", []ValidationError{
			{Field: "date", Message: "Must be a date in 2006-01-02 format"},
		})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return domain.CollectionInput{}, false, NewValidationError(c, "Invalid amount", []ValidationError{
			{Field: "amount", Message: "Must be a valid decimal number"},
		})
	}

	return domain.CollectionInput{
		BillingGroupID: req.BillingGroupID,
		UnitID:         req.UnitID,
		Date:           date,
		Amount:         amount,
		PaymentChannel: domain.PaymentChannel(req.PaymentChannel),
		ReferenceNo:    req.ReferenceNo,
		Note:           req.Note,
	}, true, nil
}

// Helper function to convert domain.Collection to CollectionResponse
func toCollectionResponse(collection *domain.Collection) CollectionResponse {
	resp := CollectionResponse{
		ID:              collection.ID,
		BillingGroupID:  collection.BillingGroupID,
		UnitID:          collection.UnitID,
		Date:            collection.Date.Format("2006-01-02"),
		Amount:          collection.Amount.StringFixed(2),
		AllocatedAmount: collection.AllocatedAmount().StringFixed(2),
		Credit:          collection.Credit().StringFixed(2),
		PaymentChannel:  string(collection.PaymentChannel),
		ReferenceNo:     collection.ReferenceNo,
		Note:            collection.Note,
		Allocations:     make([]AllocationResponse, len(collection.Allocations)),
		CreatedAt:       collection.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       collection.UpdatedAt.Format(time.RFC3339),
	}
	for i, a := range collection.Allocations {
		resp.Allocations[i] = AllocationResponse{InstallmentID: a.InstallmentID, AppliedAmount: a.AppliedAmount.StringFixed(2)}
	}
	return resp
}
