package service

import (
	"context"
	"fmt"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/internal/metrics"
	"notes-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// EscrowStateMachineImpl implements ports.EscrowStateMachine.
//
// Every transition re-reads the order under a row lock and then issues a
// conditional update on the expected status. When two callers race, the
// loser sees a different status (or zero affected rows) and aborts with
// ESC_412 before touching the wallet.
type EscrowStateMachineImpl struct {
	orderRepo  ports.OrderRepository
	ledger     ports.WalletLedger
	transactor ports.DBTransactor
	log        zerolog.Logger
	now        func() time.Time
}

// NewEscrowStateMachine creates a new EscrowStateMachineImpl.
func NewEscrowStateMachine(
	orderRepo ports.OrderRepository,
	ledger ports.WalletLedger,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *EscrowStateMachineImpl {
	return &EscrowStateMachineImpl{
		orderRepo:  orderRepo,
		ledger:     ledger,
		transactor: transactor,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves the order from expected to next inside tx.
func (m *EscrowStateMachineImpl) Transition(
	ctx context.Context,
	tx pgx.Tx,
	orderID uuid.UUID,
	expected, next domain.EscrowStatus,
) (*domain.Order, error) {
	if !domain.CanTransition(expected, next) {
		return nil, apperror.ErrIllegalTransition(string(expected), string(next)).With("order_id", orderID.String())
	}

	order, err := m.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order", orderID.String())
	}
	if order.EscrowStatus != expected {
		metrics.StaleAbortsTotal.Inc()
		return nil, apperror.ErrStaleState(orderID.String(), string(expected), string(order.EscrowStatus))
	}

	now := m.now()
	var releasedAt *time.Time
	if next == domain.EscrowStatusReleased {
		releasedAt = &now
	}

	ok, err := m.orderRepo.CompareAndSetStatus(ctx, tx, orderID, expected, next, releasedAt)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update order status: %w", err))
	}
	if !ok {
		metrics.StaleAbortsTotal.Inc()
		return nil, apperror.ErrStaleState(orderID.String(), string(expected), "unknown")
	}

	order.EscrowStatus = next
	order.ReleasedAt = releasedAt
	order.UpdatedAt = now
	return order, nil
}

// ReleaseInTx releases the order and credits the seller inside tx.
// Every release writes exactly one ledger entry, even when the seller amount is zero.
func (m *EscrowStateMachineImpl) ReleaseInTx(
	ctx context.Context,
	tx pgx.Tx,
	orderID uuid.UUID,
	expected domain.EscrowStatus,
	txnType domain.TransactionType,
) (*domain.Transaction, error) {
	order, err := m.Transition(ctx, tx, orderID, expected, domain.EscrowStatusReleased)
	if err != nil {
		return nil, err
	}

	return m.ledger.CreditSeller(ctx, tx, order.SellerID, order.SellerAmount(), order.ID, txnType)
}

// RefundInTx refunds the order inside tx. The ledger is never touched.
func (m *EscrowStateMachineImpl) RefundInTx(
	ctx context.Context,
	tx pgx.Tx,
	orderID uuid.UUID,
	expected domain.EscrowStatus,
) (*domain.Order, error) {
	return m.Transition(ctx, tx, orderID, expected, domain.EscrowStatusRefunded)
}

// Release runs ReleaseInTx in its own transaction.
func (m *EscrowStateMachineImpl) Release(
	ctx context.Context,
	orderID uuid.UUID,
	expected domain.EscrowStatus,
	txnType domain.TransactionType,
) (*domain.Transaction, error) {
	dbTx, err := m.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := m.ReleaseInTx(ctx, dbTx, orderID, expected, txnType)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	metrics.ReleasesTotal.WithLabelValues(string(txnType)).Inc()
	m.log.Info().
		Str("order_id", orderID.String()).
		Str("from", string(expected)).
		Str("type", string(txnType)).
		Msg("escrow released")

	return txn, nil
}

// Refund runs RefundInTx in its own transaction.
func (m *EscrowStateMachineImpl) Refund(ctx context.Context, orderID uuid.UUID, expected domain.EscrowStatus) (*domain.Order, error) {
	dbTx, err := m.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := m.RefundInTx(ctx, dbTx, orderID, expected)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	metrics.RefundsTotal.Inc()
	m.log.Info().
		Str("order_id", orderID.String()).
		Str("from", string(expected)).
		Msg("escrow refunded")

	return order, nil
}
