package service

import (
	"context"
	"fmt"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// WalletLedgerImpl implements ports.WalletLedger.
type WalletLedgerImpl struct {
	walletRepo ports.WalletRepository
	ledgerRepo ports.LedgerRepository
	log        zerolog.Logger
	now        func() time.Time
}

// NewWalletLedger creates a new WalletLedgerImpl.
func NewWalletLedger(walletRepo ports.WalletRepository, ledgerRepo ports.LedgerRepository, log zerolog.Logger) *WalletLedgerImpl {
	return &WalletLedgerImpl{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreditSeller adds amount to the seller's wallet and appends the matching ledger entry.
// Both writes use tx, so they commit or roll back with the caller's transition.
func (s *WalletLedgerImpl) CreditSeller(
	ctx context.Context,
	tx pgx.Tx,
	sellerID uuid.UUID,
	amount decimal.Decimal,
	orderID uuid.UUID,
	txnType domain.TransactionType,
) (*domain.Transaction, error) {
	if amount.IsNegative() {
		return nil, apperror.Validation("Credit amount must not be negative").With("amount", amount.String())
	}
	if !txnType.Valid() {
		return nil, apperror.Validation("Unknown transaction type").With("type", string(txnType))
	}

	wallet, err := s.walletRepo.Credit(ctx, tx, sellerID, amount)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("credit wallet: %w", err))
	}

	txn := &domain.Transaction{
		ID:        uuid.New(),
		SellerID:  sellerID,
		OrderID:   orderID,
		Amount:    amount,
		Type:      txnType,
		CreatedAt: s.now(),
	}
	if err := s.ledgerRepo.Append(ctx, tx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append transaction: %w", err))
	}

	s.log.Info().
		Str("txn_id", txn.ID.String()).
		Str("seller_id", sellerID.String()).
		Str("order_id", orderID.String()).
		Str("amount", amount.StringFixed(domain.MoneyScale)).
		Str("balance", wallet.Balance.StringFixed(domain.MoneyScale)).
		Str("type", string(txnType)).
		Msg("seller credited")

	return txn, nil
}

// GetBalance returns the seller's wallet, or a zero wallet if none exists yet.
func (s *WalletLedgerImpl) GetBalance(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error) {
	wallet, err := s.walletRepo.GetBySellerID(ctx, sellerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return domain.EmptyWallet(sellerID), nil
	}
	return wallet, nil
}

// GetRecentTransactions returns the seller's newest ledger entries.
func (s *WalletLedgerImpl) GetRecentTransactions(ctx context.Context, sellerID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	txns, err := s.ledgerRepo.ListBySeller(ctx, sellerID, limit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	return txns, nil
}

// Reconcile compares the stored balance with the sum of the seller's ledger.
func (s *WalletLedgerImpl) Reconcile(ctx context.Context, sellerID uuid.UUID) (*ports.Reconciliation, error) {
	wallet, err := s.GetBalance(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	total, err := s.ledgerRepo.SumBySeller(ctx, sellerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum transactions: %w", err))
	}

	rec := &ports.Reconciliation{
		SellerID:    sellerID,
		Balance:     wallet.Balance,
		LedgerTotal: total,
		Consistent:  wallet.Balance.Equal(total),
	}
	if !rec.Consistent {
		s.log.Error().
			Str("seller_id", sellerID.String()).
			Str("balance", wallet.Balance.String()).
			Str("ledger_total", total.String()).
			Msg("wallet balance does not match ledger")
	}
	return rec, nil
}
