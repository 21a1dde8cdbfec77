package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type orderTestDeps struct {
	svc         *OrderServiceImpl
	orderRepo   *mocks.MockOrderRepository
	disputeRepo *mocks.MockDisputeRepository
	notes       *mocks.MockNoteCatalog
	escrow      *mocks.MockEscrowStateMachine
	idempCache  *mocks.MockIdempotencyCache
	transactor  *mocks.MockDBTransactor
}

func setupOrderService(t *testing.T) *orderTestDeps {
	ctrl := gomock.NewController(t)
	d := &orderTestDeps{
		orderRepo:   mocks.NewMockOrderRepository(ctrl),
		disputeRepo: mocks.NewMockDisputeRepository(ctrl),
		notes:       mocks.NewMockNoteCatalog(ctrl),
		escrow:      mocks.NewMockEscrowStateMachine(ctrl),
		idempCache:  mocks.NewMockIdempotencyCache(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
	}
	d.svc = NewOrderService(d.orderRepo, d.disputeRepo, d.notes, d.escrow, d.idempCache, d.transactor, newTestLogger())
	return d
}

func approvedNote(price string) *domain.Note {
	return &domain.Note{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Price:    decimal.RequireFromString(price),
		Approved: true,
	}
}

func strPtr(s string) *string { return &s }

// ==================== PurchaseNote Tests ====================

func TestOrderService_PurchaseNote_Success(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	tx := &mockTx{}
	note := approvedNote("49.99")
	buyerID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.notes.EXPECT().GetByID(ctx, tx, note.ID).Return(note, nil)
	d.orderRepo.EXPECT().ExistsActiveOwnership(ctx, tx, note.ID, buyerID).Return(false, nil)
	d.orderRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.notes.EXPECT().IncrementDownloads(ctx, tx, note.ID).Return(nil)

	order, err := d.svc.PurchaseNote(ctx, ports.PurchaseRequest{
		BuyerID:           buyerID,
		NoteID:            note.ID,
		CommissionPercent: decimal.RequireFromString("12.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusHeld, order.EscrowStatus)
	assert.Equal(t, note.SellerID, order.SellerID)
	assert.True(t, decimal.RequireFromString("49.99").Equal(order.Amount))
	assert.True(t, decimal.RequireFromString("6.25").Equal(order.CommissionAmount))
	assert.Equal(t, order.CreatedAt, order.HeldAt)
	assert.Nil(t, order.PaymentTxnID)
}

func TestOrderService_PurchaseNote_CachesPaymentReference(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	tx := &mockTx{}
	note := approvedNote("10.00")
	buyerID := uuid.New()
	key := domain.BuildPurchaseIdempotencyKey(buyerID, "pi_1")

	d.idempCache.EXPECT().Get(ctx, key).Return(uuid.Nil, nil)
	d.orderRepo.EXPECT().GetByPaymentTxn(ctx, buyerID, "pi_1").Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.notes.EXPECT().GetByID(ctx, tx, note.ID).Return(note, nil)
	d.orderRepo.EXPECT().ExistsActiveOwnership(ctx, tx, note.ID, buyerID).Return(false, nil)
	d.orderRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.notes.EXPECT().IncrementDownloads(ctx, tx, note.ID).Return(nil)
	d.idempCache.EXPECT().Set(ctx, key, gomock.Any(), idempotencyTTL).Return(errors.New("redis down"))

	order, err := d.svc.PurchaseNote(ctx, ports.PurchaseRequest{
		BuyerID:           buyerID,
		NoteID:            note.ID,
		PaymentTxnID:      strPtr("pi_1"),
		CommissionPercent: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", *order.PaymentTxnID)
}

func TestOrderService_PurchaseNote_ReplayFromCache(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	buyerID := uuid.New()
	existing := heldOrder("10.00", "1.00")
	existing.BuyerID = buyerID
	key := domain.BuildPurchaseIdempotencyKey(buyerID, "pi_2")

	d.idempCache.EXPECT().Get(ctx, key).Return(existing.ID, nil)
	d.orderRepo.EXPECT().GetByID(ctx, existing.ID).Return(existing, nil)

	order, err := d.svc.PurchaseNote(ctx, ports.PurchaseRequest{
		BuyerID:           buyerID,
		NoteID:            existing.NoteID,
		PaymentTxnID:      strPtr("pi_2"),
		CommissionPercent: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)
}

func TestOrderService_PurchaseNote_ReplayFromDBWhenRedisFails(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	buyerID := uuid.New()
	existing := heldOrder("10.00", "1.00")

	d.idempCache.EXPECT().Get(ctx, gomock.Any()).Return(uuid.Nil, errors.New("connection refused"))
	d.orderRepo.EXPECT().GetByPaymentTxn(ctx, buyerID, "pi_3").Return(existing, nil)

	order, err := d.svc.PurchaseNote(ctx, ports.PurchaseRequest{
		BuyerID:           buyerID,
		NoteID:            existing.NoteID,
		PaymentTxnID:      strPtr("pi_3"),
		CommissionPercent: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)
}

func TestOrderService_PurchaseNote_PaymentReferenceReusedForOtherNote(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	buyerID := uuid.New()
	existing := heldOrder("10.00", "1.00")

	d.idempCache.EXPECT().Get(ctx, gomock.Any()).Return(uuid.Nil, nil)
	d.orderRepo.EXPECT().GetByPaymentTxn(ctx, buyerID, "pi_4").Return(existing, nil)

	_, err := d.svc.PurchaseNote(ctx, ports.PurchaseRequest{
		BuyerID:           buyerID,
		NoteID:            uuid.New(),
		PaymentTxnID:      strPtr("pi_4"),
		CommissionPercent: decimal.NewFromInt(10),
	})
	assertAppError(t, err, "ESC_409")
}

func TestOrderService_PurchaseNote_ConcurrentPaymentReplay(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	tx := &mockTx{}
	note := approvedNote("10.00")
	buyerID := uuid.New()
	winner := heldOrder("10.00", "1.00")
	winner.NoteID = note.ID

	d.idempCache.EXPECT().Get(ctx, gomock.Any()).Return(uuid.Nil, nil)
	gomock.InOrder(
		d.orderRepo.EXPECT().GetByPaymentTxn(ctx, buyerID, "pi_5").Return(nil, nil),
		d.orderRepo.EXPECT().GetByPaymentTxn(ctx, buyerID, "pi_5").Return(winner, nil),
	)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.notes.EXPECT().GetByID(ctx, tx, note.ID).Return(note, nil)
	d.orderRepo.EXPECT().ExistsActiveOwnership(ctx, tx, note.ID, buyerID).Return(false, nil)
	d.orderRepo.EXPECT().Create(ctx, tx, gomock.Any()).
		Return(fmt.Errorf("insert order: %w", domain.ErrDuplicatePayment))

	order, err := d.svc.PurchaseNote(ctx, ports.PurchaseRequest{
		BuyerID:           buyerID,
		NoteID:            note.ID,
		PaymentTxnID:      strPtr("pi_5"),
		CommissionPercent: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, order.ID)
}

func TestOrderService_PurchaseNote_Rejections(t *testing.T) {
	buyerID := uuid.New()

	tests := []struct {
		name    string
		note    func() *domain.Note
		owned   bool
		create  error
		code    string
		creates bool
	}{
		{
			name: "note missing",
			note: func() *domain.Note { return nil },
			code: "ESC_404",
		},
		{
			name: "note not approved",
			note: func() *domain.Note {
				n := approvedNote("10.00")
				n.Approved = false
				return n
			},
			code: "ESC_409",
		},
		{
			name: "self purchase",
			note: func() *domain.Note {
				n := approvedNote("10.00")
				n.SellerID = buyerID
				return n
			},
			code: "ESC_409",
		},
		{
			name:  "already owned",
			note:  func() *domain.Note { return approvedNote("10.00") },
			owned: true,
			code:  "ESC_409",
		},
		{
			name:    "concurrent duplicate ownership",
			note:    func() *domain.Note { return approvedNote("10.00") },
			create:  fmt.Errorf("insert order: %w", domain.ErrDuplicateOwnership),
			creates: true,
			code:    "ESC_409",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupOrderService(t)
			ctx := context.Background()
			tx := &mockTx{}
			note := tt.note()
			noteID := uuid.New()
			if note != nil {
				noteID = note.ID
			}

			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
			d.notes.EXPECT().GetByID(ctx, tx, noteID).Return(note, nil)
			if note != nil && note.Approved && note.SellerID != buyerID {
				d.orderRepo.EXPECT().ExistsActiveOwnership(ctx, tx, noteID, buyerID).Return(tt.owned, nil)
			}
			if tt.creates {
				d.orderRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(tt.create)
			}

			order, err := d.svc.PurchaseNote(ctx, ports.PurchaseRequest{
				BuyerID:           buyerID,
				NoteID:            noteID,
				CommissionPercent: decimal.NewFromInt(10),
			})
			assert.Nil(t, order)
			assertAppError(t, err, tt.code)
		})
	}
}

func TestOrderService_PurchaseNote_Validation(t *testing.T) {
	d := setupOrderService(t)

	tests := []struct {
		name string
		req  ports.PurchaseRequest
	}{
		{"missing note", ports.PurchaseRequest{BuyerID: uuid.New()}},
		{"missing buyer", ports.PurchaseRequest{NoteID: uuid.New()}},
		{"negative commission", ports.PurchaseRequest{BuyerID: uuid.New(), NoteID: uuid.New(), CommissionPercent: decimal.NewFromInt(-1)}},
		{"commission over 100", ports.PurchaseRequest{BuyerID: uuid.New(), NoteID: uuid.New(), CommissionPercent: decimal.RequireFromString("100.01")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.svc.PurchaseNote(context.Background(), tt.req)
			assertAppError(t, err, "VAL_400")
		})
	}
}

// ==================== Read Tests ====================

func TestOrderService_ListOrders_NormalizesPaging(t *testing.T) {
	d := setupOrderService(t)

	d.orderRepo.EXPECT().List(gomock.Any(), ports.OrderListParams{Page: 1, PageSize: 100}).Return(nil, int64(0), nil)

	orders, total, err := d.svc.ListOrders(context.Background(), ports.OrderListParams{Page: -3, PageSize: 1000})
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Zero(t, total)
}

func TestOrderService_ListOrders_InvalidStatus(t *testing.T) {
	d := setupOrderService(t)
	status := domain.EscrowStatus("IN_ESCROW")

	_, _, err := d.svc.ListOrders(context.Background(), ports.OrderListParams{Status: &status})
	assertAppError(t, err, "VAL_400")
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	d := setupOrderService(t)
	id := uuid.New()
	d.orderRepo.EXPECT().GetByID(gomock.Any(), id).Return(nil, nil)

	_, err := d.svc.GetOrder(context.Background(), id)
	assertAppError(t, err, "ESC_404")
}

// ==================== Admin Settlement Tests ====================

func TestOrderService_ReleaseOrder(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	order := heldOrder("100.00", "10.00")
	want := &domain.Transaction{ID: uuid.New(), Amount: decimal.NewFromInt(90)}

	d.orderRepo.EXPECT().GetByID(ctx, order.ID).Return(order, nil)
	d.escrow.EXPECT().Release(ctx, order.ID, domain.EscrowStatusHeld, domain.TransactionTypeEscrowRelease).Return(want, nil)

	txn, err := d.svc.ReleaseOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, want, txn)
}

func TestOrderService_ReleaseOrder_NotHeld(t *testing.T) {
	for _, status := range []domain.EscrowStatus{domain.EscrowStatusDisputed, domain.EscrowStatusReleased, domain.EscrowStatusRefunded} {
		t.Run(string(status), func(t *testing.T) {
			d := setupOrderService(t)
			order := heldOrder("100.00", "10.00")
			order.EscrowStatus = status
			d.orderRepo.EXPECT().GetByID(gomock.Any(), order.ID).Return(order, nil)

			_, err := d.svc.ReleaseOrder(context.Background(), order.ID)
			assertAppError(t, err, "ESC_409")
		})
	}
}

func TestOrderService_RefundOrder_Held(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("30.00", "3.00")
	adminID := uuid.New()

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.escrow.EXPECT().RefundInTx(ctx, tx, order.ID, domain.EscrowStatusHeld).
		Return(&domain.Order{ID: order.ID, EscrowStatus: domain.EscrowStatusRefunded}, nil)

	got, err := d.svc.RefundOrder(ctx, order.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusRefunded, got.EscrowStatus)
}

func TestOrderService_RefundOrder_DisputedClosesDispute(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("30.00", "3.00")
	order.EscrowStatus = domain.EscrowStatusDisputed
	adminID := uuid.New()
	dispute := &domain.Dispute{ID: uuid.New(), OrderID: order.ID, Status: domain.DisputeStatusOpen}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.disputeRepo.EXPECT().GetOpenByOrderForUpdate(ctx, tx, order.ID).Return(dispute, nil)
	d.disputeRepo.EXPECT().Close(ctx, tx, dispute).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, closed *domain.Dispute) (bool, error) {
			assert.Equal(t, domain.DisputeStatusResolved, closed.Status)
			assert.Equal(t, adminID, *closed.ResolvedBy)
			return true, nil
		},
	)
	d.escrow.EXPECT().RefundInTx(ctx, tx, order.ID, domain.EscrowStatusDisputed).
		Return(&domain.Order{ID: order.ID, EscrowStatus: domain.EscrowStatusRefunded}, nil)

	_, err := d.svc.RefundOrder(ctx, order.ID, adminID)
	require.NoError(t, err)
}

func TestOrderService_RefundOrder_Terminal(t *testing.T) {
	d := setupOrderService(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("30.00", "3.00")
	now := time.Now()
	order.EscrowStatus = domain.EscrowStatusReleased
	order.ReleasedAt = &now

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)

	_, err := d.svc.RefundOrder(ctx, order.ID, uuid.New())
	assertAppError(t, err, "ESC_409")
}
