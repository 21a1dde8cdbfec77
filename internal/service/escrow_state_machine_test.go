package service

import (
	"context"
	"testing"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type escrowTestDeps struct {
	sm         *EscrowStateMachineImpl
	orderRepo  *mocks.MockOrderRepository
	ledger     *mocks.MockWalletLedger
	transactor *mocks.MockDBTransactor
}

func setupEscrow(t *testing.T) *escrowTestDeps {
	ctrl := gomock.NewController(t)
	d := &escrowTestDeps{
		orderRepo:  mocks.NewMockOrderRepository(ctrl),
		ledger:     mocks.NewMockWalletLedger(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
	}
	d.sm = NewEscrowStateMachine(d.orderRepo, d.ledger, d.transactor, newTestLogger())
	d.sm.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return d
}

func heldOrder(amount, commission string) *domain.Order {
	return &domain.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		NoteID:           uuid.New(),
		Amount:           decimal.RequireFromString(amount),
		CommissionAmount: decimal.RequireFromString(commission),
		EscrowStatus:     domain.EscrowStatusHeld,
		HeldAt:           time.Date(2026, 4, 28, 9, 0, 0, 0, time.UTC),
	}
}

func TestEscrow_Release_CreditsSellerAmount(t *testing.T) {
	d := setupEscrow(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("100.00", "10.00")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.orderRepo.EXPECT().CompareAndSetStatus(ctx, tx, order.ID,
		domain.EscrowStatusHeld, domain.EscrowStatusReleased, gomock.Not(gomock.Nil())).Return(true, nil)
	d.ledger.EXPECT().CreditSeller(ctx, tx, order.SellerID, eqDecimal("90"),
		order.ID, domain.TransactionTypeEscrowRelease).
		Return(&domain.Transaction{ID: uuid.New(), Amount: decimal.RequireFromString("90.00")}, nil)

	txn, err := d.sm.Release(ctx, order.ID, domain.EscrowStatusHeld, domain.TransactionTypeEscrowRelease)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("90").Equal(txn.Amount))
}

func TestEscrow_Release_StaleRead(t *testing.T) {
	d := setupEscrow(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("100.00", "10.00")
	order.EscrowStatus = domain.EscrowStatusReleased

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)

	txn, err := d.sm.Release(ctx, order.ID, domain.EscrowStatusHeld, domain.TransactionTypeEscrowAutoRelease)
	assert.Nil(t, txn)
	assertAppError(t, err, "ESC_412")
}

func TestEscrow_Release_ConditionalUpdateMisses(t *testing.T) {
	d := setupEscrow(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("100.00", "10.00")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.orderRepo.EXPECT().CompareAndSetStatus(ctx, tx, order.ID,
		domain.EscrowStatusHeld, domain.EscrowStatusReleased, gomock.Any()).Return(false, nil)

	_, err := d.sm.Release(ctx, order.ID, domain.EscrowStatusHeld, domain.TransactionTypeEscrowRelease)
	assertAppError(t, err, "ESC_412")
}

func TestEscrow_Release_ZeroSellerAmountStillRecorded(t *testing.T) {
	d := setupEscrow(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("20.00", "20.00")

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.orderRepo.EXPECT().CompareAndSetStatus(ctx, tx, order.ID,
		domain.EscrowStatusHeld, domain.EscrowStatusReleased, gomock.Any()).Return(true, nil)
	d.ledger.EXPECT().CreditSeller(ctx, tx, order.SellerID, eqDecimal("0"), order.ID,
		domain.TransactionTypeEscrowRelease).Times(1).Return(&domain.Transaction{
		ID:       uuid.New(),
		SellerID: order.SellerID,
		OrderID:  order.ID,
		Amount:   decimal.Zero,
		Type:     domain.TransactionTypeEscrowRelease,
	}, nil)

	txn, err := d.sm.Release(ctx, order.ID, domain.EscrowStatusHeld, domain.TransactionTypeEscrowRelease)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.True(t, txn.Amount.IsZero())
	assert.Equal(t, order.ID, txn.OrderID)
}

func TestEscrow_Refund_NeverTouchesLedger(t *testing.T) {
	d := setupEscrow(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("50.00", "5.00")
	order.EscrowStatus = domain.EscrowStatusDisputed

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.orderRepo.EXPECT().CompareAndSetStatus(ctx, tx, order.ID,
		domain.EscrowStatusDisputed, domain.EscrowStatusRefunded, nil).Return(true, nil)

	got, err := d.sm.Refund(ctx, order.ID, domain.EscrowStatusDisputed)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusRefunded, got.EscrowStatus)
	assert.Nil(t, got.ReleasedAt)
}

func TestEscrow_Transition_Illegal(t *testing.T) {
	tests := []struct {
		name     string
		expected domain.EscrowStatus
		next     domain.EscrowStatus
	}{
		{"released to refunded", domain.EscrowStatusReleased, domain.EscrowStatusRefunded},
		{"refunded to released", domain.EscrowStatusRefunded, domain.EscrowStatusReleased},
		{"disputed to held", domain.EscrowStatusDisputed, domain.EscrowStatusHeld},
		{"released to disputed", domain.EscrowStatusReleased, domain.EscrowStatusDisputed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupEscrow(t)
			_, err := d.sm.Transition(context.Background(), &mockTx{}, uuid.New(), tt.expected, tt.next)
			assertAppError(t, err, "ESC_422")
		})
	}
}

func TestEscrow_Transition_OrderMissing(t *testing.T) {
	d := setupEscrow(t)
	ctx := context.Background()
	tx := &mockTx{}
	id := uuid.New()

	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, id).Return(nil, nil)

	_, err := d.sm.Transition(ctx, tx, id, domain.EscrowStatusHeld, domain.EscrowStatusDisputed)
	assertAppError(t, err, "ESC_404")
}

func TestEscrow_Transition_SetsReleasedAt(t *testing.T) {
	d := setupEscrow(t)
	ctx := context.Background()
	tx := &mockTx{}
	order := heldOrder("10.00", "1.00")

	d.orderRepo.EXPECT().GetByIDForUpdate(ctx, tx, order.ID).Return(order, nil)
	d.orderRepo.EXPECT().CompareAndSetStatus(ctx, tx, order.ID,
		domain.EscrowStatusHeld, domain.EscrowStatusReleased, gomock.Any()).Return(true, nil)

	got, err := d.sm.Transition(ctx, tx, order.ID, domain.EscrowStatusHeld, domain.EscrowStatusReleased)
	require.NoError(t, err)
	require.NotNil(t, got.ReleasedAt)
	assert.Equal(t, d.sm.now(), *got.ReleasedAt)
}
