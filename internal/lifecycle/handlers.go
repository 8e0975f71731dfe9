package lifecycle

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mvasiljev/orderchain/internal/auth"
	"github.com/mvasiljev/orderchain/internal/chain"
	"github.com/mvasiljev/orderchain/internal/order"
	"github.com/mvasiljev/orderchain/internal/validation"
)

// Handler provides HTTP endpoints for order lifecycle operations.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a new lifecycle handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterCustomerRoutes sets up customer-facing order routes.
func (h *Handler) RegisterCustomerRoutes(r *gin.RouterGroup) {
	r.POST("/order", h.CreateOrder)
	r.GET("/status", h.OrderStatus)
	r.POST("/generate_invoice", h.GenerateInvoice)
	r.POST("/delivered", h.ConfirmDelivered)
}

// RegisterCourierRoutes sets up courier-facing order routes.
func (h *Handler) RegisterCourierRoutes(r *gin.RouterGroup) {
	r.GET("/orders_to_deliver", h.OrdersToDeliver)
	r.POST("/pick_up_order", h.PickUpOrder)
}

type createOrderRequest struct {
	Requests []LineRequest `json:"requests"`
	Address  string        `json:"address"`
}

// CreateOrder handles POST /customer/order
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Requests == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Field requests is missing."})
		return
	}
	if req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Field address is missing."})
		return
	}
	if errs := validation.Validate(validation.ValidAddress("address", req.Address)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error()})
		return
	}

	o, err := h.coordinator.Create(c.Request.Context(), auth.Email(c), req.Address, req.Requests)
	if err != nil {
		var deployErr *DeployError
		if errors.As(err, &deployErr) {
			// The ledger row exists; surface both the failure and the ID.
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "deploy_failed", "message": "Failed to deploy escrow contract.", "id": deployErr.OrderID,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": o.ID})
}

// OrderStatus handles GET /customer/status
func (h *Handler) OrderStatus(c *gin.Context) {
	orders, err := h.coordinator.Orders(c.Request.Context(), auth.Email(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type invoiceRequest struct {
	ID      int64  `json:"id"`
	Address string `json:"address"`
}

// GenerateInvoice handles POST /customer/generate_invoice
func (h *Handler) GenerateInvoice(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Missing order id."})
		return
	}
	if errs := validation.Validate(
		validation.PositiveID("id", req.ID),
		validation.Required("address", req.Address),
		validation.ValidAddress("address", req.Address),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error()})
		return
	}

	tx, err := h.coordinator.Invoice(c.Request.Context(), req.ID, auth.Email(c), req.Address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": tx})
}

type deliveredRequest struct {
	ID int64 `json:"id"`
}

// ConfirmDelivered handles POST /customer/delivered
func (h *Handler) ConfirmDelivered(c *gin.Context) {
	var req deliveredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Missing order id."})
		return
	}
	if errs := validation.Validate(validation.PositiveID("id", req.ID)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error()})
		return
	}

	if err := h.coordinator.Deliver(c.Request.Context(), req.ID, auth.Email(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": ""})
}

// OrdersToDeliver handles GET /courier/orders_to_deliver
func (h *Handler) OrdersToDeliver(c *gin.Context) {
	orders, err := h.coordinator.OrdersToDeliver(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type pickUpRequest struct {
	ID      int64  `json:"id"`
	Address string `json:"address"`
}

// PickUpOrder handles POST /courier/pick_up_order
func (h *Handler) PickUpOrder(c *gin.Context) {
	var req pickUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Missing order id."})
		return
	}
	if errs := validation.Validate(
		validation.PositiveID("id", req.ID),
		validation.Required("address", req.Address),
		validation.ValidAddress("address", req.Address),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error()})
		return
	}

	if err := h.coordinator.Pickup(c.Request.Context(), req.ID, auth.Email(c), req.Address); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": ""})
}

// writeError maps coordinator errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var itemErr *ItemError
	switch {
	case errors.As(err, &itemErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item", "message": itemErr.Error()})
	case errors.Is(err, order.ErrEmptyOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Order has no items."})
	case errors.Is(err, order.ErrOrderNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_found", "message": "Invalid order id."})
	case errors.Is(err, order.ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "status_conflict", "message": "Order already in progress."})
	case errors.Is(err, ErrNotCustomer):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Order belongs to another customer."})
	case errors.Is(err, ErrNotPaid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_paid", "message": "Transfer not complete."})
	case errors.Is(err, ErrNotPending):
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_pending", "message": "Delivery not complete."})
	case errors.Is(err, ErrNoContract):
		c.JSON(http.StatusConflict, gin.H{"error": "no_contract", "message": "Order has no escrow contract."})
	case errors.Is(err, chain.ErrAlreadyPaid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "already_paid", "message": "Transfer already complete."})
	case errors.Is(err, chain.ErrInvalidAddress), errors.Is(err, chain.ErrUnfundedAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "Invalid address."})
	case errors.Is(err, chain.ErrReverted):
		c.JSON(http.StatusConflict, gin.H{"error": "reverted", "message": "Contract rejected the operation."})
	case errors.Is(err, chain.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "chain_timeout", "message": "Blockchain confirmation timed out."})
	case errors.Is(err, chain.ErrRPCConnection), errors.Is(err, chain.ErrCircuitOpen):
		c.JSON(http.StatusBadGateway, gin.H{"error": "chain_unavailable", "message": "Blockchain node unavailable."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Internal server error."})
	}
}
