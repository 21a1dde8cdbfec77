package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/internal/metrics"
	"notes-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	idempotencyTTL  = 24 * time.Hour
	defaultPageSize = 20
	maxPageSize     = 100
)

var hundred = decimal.NewFromInt(100)

// OrderServiceImpl implements ports.OrderService.
type OrderServiceImpl struct {
	orderRepo   ports.OrderRepository
	disputeRepo ports.DisputeRepository
	notes       ports.NoteCatalog
	escrow      ports.EscrowStateMachine
	idempCache  ports.IdempotencyCache
	transactor  ports.DBTransactor
	log         zerolog.Logger
	now         func() time.Time
}

// NewOrderService creates a new OrderServiceImpl.
func NewOrderService(
	orderRepo ports.OrderRepository,
	disputeRepo ports.DisputeRepository,
	notes ports.NoteCatalog,
	escrow ports.EscrowStateMachine,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *OrderServiceImpl {
	return &OrderServiceImpl{
		orderRepo:   orderRepo,
		disputeRepo: disputeRepo,
		notes:       notes,
		escrow:      escrow,
		idempCache:  idempCache,
		transactor:  transactor,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PurchaseNote places the note's price into escrow for the buyer.
// A repeated call with the same payment reference returns the first order.
func (s *OrderServiceImpl) PurchaseNote(ctx context.Context, req ports.PurchaseRequest) (*domain.Order, error) {
	if req.BuyerID == uuid.Nil {
		return nil, apperror.Validation("buyer id is required")
	}
	if req.NoteID == uuid.Nil {
		return nil, apperror.Validation("note id is required")
	}
	if req.CommissionPercent.IsNegative() || req.CommissionPercent.GreaterThan(hundred) {
		return nil, apperror.Validation("Commission percent must be between 0 and 100").
			With("commission_percent", req.CommissionPercent.String())
	}

	var idempKey string
	if req.PaymentTxnID != nil {
		idempKey = domain.BuildPurchaseIdempotencyKey(req.BuyerID, *req.PaymentTxnID)
		existing, err := s.findPriorPurchase(ctx, req, idempKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	order, err := s.createOrder(ctx, req)
	if errors.Is(err, domain.ErrDuplicatePayment) && req.PaymentTxnID != nil {
		// A concurrent request with the same reference won the insert.
		existing, lookupErr := s.orderRepo.GetByPaymentTxn(ctx, req.BuyerID, *req.PaymentTxnID)
		if lookupErr != nil {
			return nil, apperror.InternalError(fmt.Errorf("lookup order by payment: %w", lookupErr))
		}
		if existing == nil {
			return nil, apperror.InternalError(err)
		}
		return s.matchPriorPurchase(existing, req)
	}
	if err != nil {
		return nil, err
	}

	if idempKey != "" {
		if err := s.idempCache.Set(ctx, idempKey, order.ID, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache purchase idempotency in redis")
		}
	}

	metrics.OrdersCreatedTotal.Inc()
	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("buyer_id", order.BuyerID.String()).
		Str("seller_id", order.SellerID.String()).
		Str("note_id", order.NoteID.String()).
		Str("amount", order.Amount.StringFixed(domain.MoneyScale)).
		Str("commission", order.CommissionAmount.StringFixed(domain.MoneyScale)).
		Msg("order placed in escrow")

	return order, nil
}

// findPriorPurchase checks the Redis cache, then the orders table, for an order
// already created under the buyer's payment reference.
func (s *OrderServiceImpl) findPriorPurchase(ctx context.Context, req ports.PurchaseRequest, idempKey string) (*domain.Order, error) {
	cachedID, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cachedID != uuid.Nil {
		order, err := s.orderRepo.GetByID(ctx, cachedID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get cached order: %w", err))
		}
		if order != nil {
			return s.matchPriorPurchase(order, req)
		}
	}

	order, err := s.orderRepo.GetByPaymentTxn(ctx, req.BuyerID, *req.PaymentTxnID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup order by payment: %w", err))
	}
	if order == nil {
		return nil, nil
	}
	return s.matchPriorPurchase(order, req)
}

func (s *OrderServiceImpl) matchPriorPurchase(order *domain.Order, req ports.PurchaseRequest) (*domain.Order, error) {
	if order.NoteID != req.NoteID {
		return nil, apperror.ErrInvalidState("Payment reference already used for another note").
			With("order_id", order.ID.String())
	}
	s.log.Debug().Str("order_id", order.ID.String()).Msg("purchase replayed")
	return order, nil
}

func (s *OrderServiceImpl) createOrder(ctx context.Context, req ports.PurchaseRequest) (*domain.Order, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	note, err := s.notes.GetByID(ctx, dbTx, req.NoteID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get note: %w", err))
	}
	if note == nil {
		return nil, apperror.ErrNotFound("note", req.NoteID.String())
	}
	if !note.Approved {
		return nil, apperror.ErrInvalidState("Note is not approved for sale")
	}
	if note.SellerID == req.BuyerID {
		return nil, apperror.ErrInvalidState("Cannot purchase your own note")
	}

	owned, err := s.orderRepo.ExistsActiveOwnership(ctx, dbTx, req.NoteID, req.BuyerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check ownership: %w", err))
	}
	if owned {
		return nil, apperror.ErrInvalidState("You already own this note")
	}

	now := s.now()
	order := &domain.Order{
		ID:               uuid.New(),
		BuyerID:          req.BuyerID,
		SellerID:         note.SellerID,
		NoteID:           note.ID,
		PaymentTxnID:     req.PaymentTxnID,
		Amount:           note.Price,
		CommissionAmount: domain.ComputeCommission(note.Price, req.CommissionPercent),
		EscrowStatus:     domain.EscrowStatusHeld,
		CreatedAt:        now,
		HeldAt:           now,
		UpdatedAt:        now,
	}

	if err := s.orderRepo.Create(ctx, dbTx, order); err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateOwnership):
			return nil, apperror.ErrInvalidState("You already own this note")
		case errors.Is(err, domain.ErrDuplicatePayment):
			return nil, err
		}
		return nil, apperror.InternalError(fmt.Errorf("create order: %w", err))
	}

	if err := s.notes.IncrementDownloads(ctx, dbTx, note.ID); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("increment downloads: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return order, nil
}

// ListBuyerOrders returns the buyer's orders, newest first.
func (s *OrderServiceImpl) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error) {
	orders, err := s.orderRepo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list buyer orders: %w", err))
	}
	return nonNilOrders(orders), nil
}

// ListSellerSales returns orders for the seller's notes, newest first.
func (s *OrderServiceImpl) ListSellerSales(ctx context.Context, sellerID uuid.UUID) ([]domain.Order, error) {
	orders, err := s.orderRepo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list seller sales: %w", err))
	}
	return nonNilOrders(orders), nil
}

// ListOrders returns one page of all orders, optionally filtered by status.
func (s *OrderServiceImpl) ListOrders(ctx context.Context, params ports.OrderListParams) ([]domain.Order, int64, error) {
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.Validation("Unknown escrow status").With("status", string(*params.Status))
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	orders, total, err := s.orderRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list orders: %w", err))
	}
	return nonNilOrders(orders), total, nil
}

// GetOrder returns a single order.
func (s *OrderServiceImpl) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order", orderID.String())
	}
	return order, nil
}

// ReleaseOrder is the admin manual release of a held order.
func (s *OrderServiceImpl) ReleaseOrder(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.EscrowStatus != domain.EscrowStatusHeld {
		return nil, apperror.ErrInvalidState("Order is not in escrow").
			With("order_id", orderID.String()).
			With("status", string(order.EscrowStatus))
	}

	return s.escrow.Release(ctx, orderID, domain.EscrowStatusHeld, domain.TransactionTypeEscrowRelease)
}

// RefundOrder is the admin refund of a held or disputed order.
// A disputed order has its open dispute closed as RESOLVED in the same transaction.
func (s *OrderServiceImpl) RefundOrder(ctx context.Context, orderID, adminID uuid.UUID) (*domain.Order, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	current, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if current == nil {
		return nil, apperror.ErrNotFound("order", orderID.String())
	}
	if current.EscrowStatus.IsTerminal() {
		return nil, apperror.ErrInvalidState("Order is already settled").
			With("order_id", orderID.String()).
			With("status", string(current.EscrowStatus))
	}

	if current.EscrowStatus == domain.EscrowStatusDisputed {
		dispute, err := s.disputeRepo.GetOpenByOrderForUpdate(ctx, dbTx, orderID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lock dispute: %w", err))
		}
		if dispute != nil {
			dispute.Close(domain.DisputeStatusResolved, "Refunded by admin", adminID, s.now())
			if _, err := s.disputeRepo.Close(ctx, dbTx, dispute); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("close dispute: %w", err))
			}
		}
	}

	order, err := s.escrow.RefundInTx(ctx, dbTx, orderID, current.EscrowStatus)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	metrics.RefundsTotal.Inc()
	s.log.Info().
		Str("order_id", orderID.String()).
		Str("admin_id", adminID.String()).
		Str("from", string(current.EscrowStatus)).
		Msg("order refunded by admin")

	return order, nil
}

func nonNilOrders(orders []domain.Order) []domain.Order {
	if orders == nil {
		return []domain.Order{}
	}
	return orders
}
