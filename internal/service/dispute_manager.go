package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/internal/metrics"
	"notes-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxReasonLength = 2000

// DisputeManagerImpl implements ports.DisputeService.
type DisputeManagerImpl struct {
	orderRepo   ports.OrderRepository
	disputeRepo ports.DisputeRepository
	escrow      ports.EscrowStateMachine
	transactor  ports.DBTransactor
	log         zerolog.Logger
	now         func() time.Time
}

// NewDisputeManager creates a new DisputeManagerImpl.
func NewDisputeManager(
	orderRepo ports.OrderRepository,
	disputeRepo ports.DisputeRepository,
	escrow ports.EscrowStateMachine,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *DisputeManagerImpl {
	return &DisputeManagerImpl{
		orderRepo:   orderRepo,
		disputeRepo: disputeRepo,
		escrow:      escrow,
		transactor:  transactor,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateDispute opens a dispute on a held order and moves it to DISPUTED.
func (s *DisputeManagerImpl) CreateDispute(ctx context.Context, orderID, buyerID uuid.UUID, reason string) (*domain.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.Validation("Dispute reason is required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, apperror.Validation(fmt.Sprintf("Dispute reason must be at most %d characters", maxReasonLength))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order", orderID.String())
	}
	if order.BuyerID != buyerID {
		return nil, apperror.ErrForbidden("Only the buyer can dispute this order")
	}

	open, err := s.disputeRepo.GetOpenByOrderForUpdate(ctx, dbTx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check open dispute: %w", err))
	}
	if open != nil {
		return nil, apperror.ErrInvalidState("A dispute is already open for this order").
			With("dispute_id", open.ID.String())
	}
	if order.EscrowStatus != domain.EscrowStatusHeld {
		return nil, apperror.ErrInvalidState("Can only dispute orders in escrow").
			With("status", string(order.EscrowStatus))
	}

	dispute := &domain.Dispute{
		ID:        uuid.New(),
		OrderID:   orderID,
		UserID:    buyerID,
		Reason:    reason,
		Status:    domain.DisputeStatusOpen,
		CreatedAt: s.now(),
	}
	if err := s.disputeRepo.Create(ctx, dbTx, dispute); err != nil {
		if errors.Is(err, domain.ErrDisputeAlreadyOpen) {
			return nil, apperror.ErrInvalidState("A dispute is already open for this order")
		}
		return nil, apperror.InternalError(fmt.Errorf("create dispute: %w", err))
	}

	if _, err := s.escrow.Transition(ctx, dbTx, orderID, domain.EscrowStatusHeld, domain.EscrowStatusDisputed); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	metrics.DisputesOpenedTotal.Inc()
	s.log.Info().
		Str("dispute_id", dispute.ID.String()).
		Str("order_id", orderID.String()).
		Str("buyer_id", buyerID.String()).
		Msg("dispute opened")

	return dispute, nil
}

// ResolveDispute closes an open dispute and settles its order.
// RESOLVED with refund returns the funds to the buyer; anything else releases to the seller.
func (s *DisputeManagerImpl) ResolveDispute(ctx context.Context, req ports.ResolveDisputeRequest) (*domain.Dispute, error) {
	if !req.Status.IsResolution() {
		return nil, apperror.Validation("Status must be RESOLVED or REJECTED").With("status", string(req.Status))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	dispute, err := s.disputeRepo.GetByIDForUpdate(ctx, dbTx, req.DisputeID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock dispute: %w", err))
	}
	if dispute == nil {
		return nil, apperror.ErrNotFound("dispute", req.DisputeID.String())
	}
	if !dispute.IsOpen() {
		return nil, apperror.ErrInvalidState("Dispute is already closed").With("status", string(dispute.Status))
	}

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, dispute.OrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order", dispute.OrderID.String())
	}
	if order.EscrowStatus != domain.EscrowStatusDisputed {
		return nil, apperror.ErrInvalidState("Order is not under dispute").
			With("status", string(order.EscrowStatus))
	}

	dispute.Close(req.Status, strings.TrimSpace(req.Resolution), req.AdminID, s.now())
	closed, err := s.disputeRepo.Close(ctx, dbTx, dispute)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("close dispute: %w", err))
	}
	if !closed {
		return nil, apperror.ErrInvalidState("Dispute is already closed")
	}

	refund := req.Refund && req.Status == domain.DisputeStatusResolved
	if refund {
		if _, err := s.escrow.RefundInTx(ctx, dbTx, order.ID, domain.EscrowStatusDisputed); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.escrow.ReleaseInTx(ctx, dbTx, order.ID, domain.EscrowStatusDisputed, domain.TransactionTypeDisputeResolved); err != nil {
			return nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if refund {
		metrics.RefundsTotal.Inc()
	} else {
		metrics.ReleasesTotal.WithLabelValues(string(domain.TransactionTypeDisputeResolved)).Inc()
	}
	s.log.Info().
		Str("dispute_id", dispute.ID.String()).
		Str("order_id", order.ID.String()).
		Str("admin_id", req.AdminID.String()).
		Str("status", string(req.Status)).
		Bool("refund", refund).
		Msg("dispute resolved")

	return dispute, nil
}

// ListUserDisputes returns disputes raised by the user, newest first.
func (s *DisputeManagerImpl) ListUserDisputes(ctx context.Context, userID uuid.UUID) ([]domain.Dispute, error) {
	disputes, err := s.disputeRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list user disputes: %w", err))
	}
	if disputes == nil {
		disputes = []domain.Dispute{}
	}
	return disputes, nil
}

// ListDisputes returns all disputes, optionally filtered by status.
func (s *DisputeManagerImpl) ListDisputes(ctx context.Context, status *domain.DisputeStatus) ([]domain.Dispute, error) {
	if status != nil {
		switch *status {
		case domain.DisputeStatusOpen, domain.DisputeStatusResolved, domain.DisputeStatusRejected:
		default:
			return nil, apperror.Validation("Unknown dispute status").With("status", string(*status))
		}
	}

	disputes, err := s.disputeRepo.List(ctx, status)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list disputes: %w", err))
	}
	if disputes == nil {
		disputes = []domain.Dispute{}
	}
	return disputes, nil
}
