package handler

import (
	"notes-escrow/internal/adapter/http/dto"
	"notes-escrow/internal/adapter/http/middleware"
	"notes-escrow/internal/core/ports"
	"notes-escrow/pkg/apperror"
	"notes-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderHandler serves the buyer and seller order endpoints.
type OrderHandler struct {
	orderSvc    ports.OrderService
	disputeSvc  ports.DisputeService
	wallet      ports.WalletLedger
	commission  decimal.Decimal
	walletLimit int
}

// NewOrderHandler creates a new OrderHandler. commission is the platform
// percentage snapshotted into every new order.
func NewOrderHandler(
	orderSvc ports.OrderService,
	disputeSvc ports.DisputeService,
	wallet ports.WalletLedger,
	commission decimal.Decimal,
	walletLimit int,
) *OrderHandler {
	return &OrderHandler{
		orderSvc:    orderSvc,
		disputeSvc:  disputeSvc,
		wallet:      wallet,
		commission:  commission,
		walletLimit: walletLimit,
	}
}

// Purchase handles POST /api/v1/orders/purchase.
func (h *OrderHandler) Purchase(c *gin.Context) {
	buyerID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	noteID, err := uuid.Parse(req.NoteID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid note_id"))
		return
	}

	order, err := h.orderSvc.PurchaseNote(c.Request.Context(), ports.PurchaseRequest{
		BuyerID:           buyerID,
		NoteID:            noteID,
		PaymentTxnID:      req.PaymentTxnID,
		CommissionPercent: h.commission,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToOrderResponse(order))
}

// MyOrders handles GET /api/v1/orders/my-orders.
func (h *OrderHandler) MyOrders(c *gin.Context) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	orders, err := h.orderSvc.ListBuyerOrders(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToOrderResponses(orders))
}

// MySales handles GET /api/v1/orders/my-sales.
func (h *OrderHandler) MySales(c *gin.Context) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	orders, err := h.orderSvc.ListSellerSales(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToOrderResponses(orders))
}

// Dispute handles POST /api/v1/orders/dispute.
func (h *OrderHandler) Dispute(c *gin.Context) {
	buyerID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid order_id"))
		return
	}

	dispute, err := h.disputeSvc.CreateDispute(c.Request.Context(), orderID, buyerID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToDisputeResponse(dispute))
}

// MyDisputes handles GET /api/v1/orders/my-disputes.
func (h *OrderHandler) MyDisputes(c *gin.Context) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	disputes, err := h.disputeSvc.ListUserDisputes(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToDisputeResponses(disputes))
}

// Wallet handles GET /api/v1/orders/wallet.
func (h *OrderHandler) Wallet(c *gin.Context) {
	sellerID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	ctx := c.Request.Context()
	wallet, err := h.wallet.GetBalance(ctx, sellerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	txns, err := h.wallet.GetRecentTransactions(ctx, sellerID, h.walletLimit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToWalletResponse(wallet, txns))
}
