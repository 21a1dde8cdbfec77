package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsDir is the directory inside the embedded filesystem.
const MigrationsDir = "migrations"

// Constraint names referenced by error mapping.
const (
	ConstraintOrderOwnership = "uq_orders_active_ownership"
	ConstraintOrderPayment   = "uq_orders_payment_txn"
	ConstraintOpenDispute    = "uq_disputes_open_per_order"
	ConstraintTxnPerOrder    = "uq_transactions_order"
)

func init() {
	goose.SetBaseFS(migrationsFS)
}

// RunMigrations executes a goose command (up, down, status, version, redo, ...) against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, command string, args ...string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	if err := goose.RunContext(ctx, command, db, MigrationsDir, args...); err != nil {
		return fmt.Errorf("migration %s: %w", command, err)
	}
	return nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	if err := RunMigrations(ctx, pool, "up"); err != nil {
		return err
	}
	log.Info().Msg("database migrations applied")
	return nil
}
