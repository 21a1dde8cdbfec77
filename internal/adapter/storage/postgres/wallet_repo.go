package postgres

import (
	"context"
	"errors"
	"fmt"

	"notes-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Credit upserts the seller's wallet, adding amount to its balance.
// This MUST be called within a transaction.
func (r *WalletRepo) Credit(ctx context.Context, tx pgx.Tx, sellerID uuid.UUID, amount decimal.Decimal) (*domain.SellerWallet, error) {
	query := `INSERT INTO seller_wallets (seller_id, balance, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (seller_id) DO UPDATE
		SET balance = seller_wallets.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING seller_id, balance, created_at, updated_at`

	w := &domain.SellerWallet{}
	err := tx.QueryRow(ctx, query, sellerID, amount).Scan(&w.SellerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}
	return w, nil
}

// GetBySellerID fetches a seller's wallet. Returns nil if the seller was never credited.
func (r *WalletRepo) GetBySellerID(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error) {
	query := `SELECT seller_id, balance, created_at, updated_at FROM seller_wallets WHERE seller_id = $1`

	w := &domain.SellerWallet{}
	err := r.pool.QueryRow(ctx, query, sellerID).Scan(&w.SellerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by seller: %w", err)
	}
	return w, nil
}
