package handler

import (
	"notes-escrow/internal/adapter/http/dto"
	"notes-escrow/internal/adapter/http/middleware"
	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/pkg/apperror"
	"notes-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
)

// AdminHandler serves settlement and dispute moderation endpoints.
type AdminHandler struct {
	orderSvc   ports.OrderService
	disputeSvc ports.DisputeService
	scheduler  ports.ReleaseScheduler
	holdHours  int
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	orderSvc ports.OrderService,
	disputeSvc ports.DisputeService,
	scheduler ports.ReleaseScheduler,
	holdHours int,
) *AdminHandler {
	return &AdminHandler{
		orderSvc:   orderSvc,
		disputeSvc: disputeSvc,
		scheduler:  scheduler,
		holdHours:  holdHours,
	}
}

// ListOrders handles GET /api/v1/orders.
func (h *AdminHandler) ListOrders(c *gin.Context) {
	var q dto.OrderListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Page == 0 {
		q.Page = defaultPage
	}
	if q.PageSize == 0 {
		q.PageSize = defaultPageSize
	}

	params := ports.OrderListParams{Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		s := domain.EscrowStatus(q.Status)
		params.Status = &s
	}

	orders, total, err := h.orderSvc.ListOrders(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, dto.ToOrderResponses(orders), q.Page, q.PageSize, total)
}

// Release handles POST /api/v1/orders/:id/release.
func (h *AdminHandler) Release(c *gin.Context) {
	orderID, ok := parseIDParam(c)
	if !ok {
		return
	}

	txn, err := h.orderSvc.ReleaseOrder(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToReleaseResponse(orderID.String(), txn))
}

// Refund handles POST /api/v1/orders/:id/refund.
func (h *AdminHandler) Refund(c *gin.Context) {
	adminID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	orderID, ok := parseIDParam(c)
	if !ok {
		return
	}

	order, err := h.orderSvc.RefundOrder(c.Request.Context(), orderID, adminID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToOrderResponse(order))
}

// ListDisputes handles GET /api/v1/orders/disputes.
func (h *AdminHandler) ListDisputes(c *gin.Context) {
	var q dto.DisputeListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	var status *domain.DisputeStatus
	if q.Status != "" {
		s := domain.DisputeStatus(q.Status)
		status = &s
	}

	disputes, err := h.disputeSvc.ListDisputes(c.Request.Context(), status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToDisputeResponses(disputes))
}

// ResolveDispute handles PATCH /api/v1/orders/disputes/:id/resolve.
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	adminID, ok := middleware.UserIDFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	disputeID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	dispute, err := h.disputeSvc.ResolveDispute(c.Request.Context(), ports.ResolveDisputeRequest{
		DisputeID:  disputeID,
		AdminID:    adminID,
		Status:     domain.DisputeStatus(req.Status),
		Resolution: req.Resolution,
		Refund:     req.Refund,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToDisputeResponse(dispute))
}

// CronReleaseEscrow handles POST /api/v1/orders/cron/release-escrow.
func (h *AdminHandler) CronReleaseEscrow(c *gin.Context) {
	released, err := h.scheduler.ProcessEscrowRelease(c.Request.Context(), h.holdHours)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ReleaseRunResponse{Released: released, HoldHours: h.holdHours})
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
