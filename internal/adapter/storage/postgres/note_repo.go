package postgres

import (
	"context"
	"errors"
	"fmt"

	"notes-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// NoteRepo implements ports.NoteCatalog over the catalog's notes table.
type NoteRepo struct {
	pool Pool
}

// NewNoteRepo creates a new NoteRepo.
func NewNoteRepo(pool Pool) *NoteRepo {
	return &NoteRepo{pool: pool}
}

// GetByID reads a note inside the purchase transaction. Shares the row so the
// price and approval cannot change until the order is written.
func (r *NoteRepo) GetByID(ctx context.Context, tx pgx.Tx, noteID uuid.UUID) (*domain.Note, error) {
	query := `SELECT id, seller_id, price, approved, downloads FROM notes WHERE id = $1 FOR SHARE`

	n := &domain.Note{}
	err := tx.QueryRow(ctx, query, noteID).Scan(&n.ID, &n.SellerID, &n.Price, &n.Approved, &n.Downloads)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// IncrementDownloads bumps the note's download counter.
func (r *NoteRepo) IncrementDownloads(ctx context.Context, tx pgx.Tx, noteID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `UPDATE notes SET downloads = downloads + 1 WHERE id = $1`, noteID)
	if err != nil {
		return fmt.Errorf("increment note downloads: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("note not found: %s", noteID)
	}
	return nil
}
