package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// LedgerRepo implements the append-only credit ledger (spec.md §3 invariant
// C1: balance is always the sum of ledger deltas, never a mutable column).
// Reserve/Release/Finalize are each idempotent on (user_id, job_id): a
// retried call that finds its own kind already recorded for the job is a
// no-op, matching the queue's at-least-once delivery semantics.
type LedgerRepo struct{ Pool PgxPool }

// NewLedgerRepo constructs a LedgerRepo with the given pool.
func NewLedgerRepo(p PgxPool) *LedgerRepo { return &LedgerRepo{Pool: p} }

// lockUser takes a transaction-scoped advisory lock keyed by userID so that
// concurrent reserve/release/finalize calls for the same user serialize
// without requiring a dedicated users table to hold FOR UPDATE against.
func lockUser(ctx domain.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}

func (r *LedgerRepo) begin(ctx domain.Context) (pgx.Tx, error) {
	return r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
}

// Reserve deducts amount from the user's available balance and records a
// "reserve" ledger entry, refusing the operation (ErrQuota) when the balance
// is insufficient.
func (r *LedgerRepo) Reserve(ctx domain.Context, userID, jobID string, amount int64) error {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"))

	tx, err := r.begin(ctx)
	if err != nil {
		return fmt.Errorf("op=ledger.reserve.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("failed to rollback reserve transaction", slog.String("job_id", jobID), slog.Any("error", rbErr))
			}
		}
	}()

	if err := lockUser(ctx, tx, userID); err != nil {
		return fmt.Errorf("op=ledger.reserve.lock: %w", err)
	}

	if exists, err := entryExists(ctx, tx, userID, jobID, domain.LedgerReserve); err != nil {
		return fmt.Errorf("op=ledger.reserve.check_idempotency: %w", err)
	} else if exists {
		committed = true
		return tx.Commit(ctx)
	}

	balance, err := queryBalance(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("op=ledger.reserve.balance: %w", err)
	}
	if balance < amount {
		return fmt.Errorf("op=ledger.reserve: %w", &domain.InsufficientCreditsError{Required: amount, Available: balance})
	}

	if err := insertEntry(ctx, tx, userID, jobID, domain.LedgerReserve, -amount); err != nil {
		return fmt.Errorf("op=ledger.reserve.insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=ledger.reserve.commit: %w", err)
	}
	committed = true
	return nil
}

// Release refunds a prior reservation in full, used when a job fails before
// any transform backend ran or is cancelled before processing starts.
func (r *LedgerRepo) Release(ctx domain.Context, userID, jobID string) error {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Release")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"))

	tx, err := r.begin(ctx)
	if err != nil {
		return fmt.Errorf("op=ledger.release.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("failed to rollback release transaction", slog.String("job_id", jobID), slog.Any("error", rbErr))
			}
		}
	}()

	if err := lockUser(ctx, tx, userID); err != nil {
		return fmt.Errorf("op=ledger.release.lock: %w", err)
	}

	if exists, err := entryExists(ctx, tx, userID, jobID, domain.LedgerRelease); err != nil {
		return fmt.Errorf("op=ledger.release.check_idempotency: %w", err)
	} else if exists {
		committed = true
		return tx.Commit(ctx)
	}
	if exists, err := entryExists(ctx, tx, userID, jobID, domain.LedgerFinalize); err != nil {
		return fmt.Errorf("op=ledger.release.check_finalized: %w", err)
	} else if exists {
		// Already finalized: releasing now would double-refund.
		committed = true
		return tx.Commit(ctx)
	}

	reserved, err := reservedAmount(ctx, tx, userID, jobID)
	if err != nil {
		return fmt.Errorf("op=ledger.release.reserved_amount: %w", err)
	}
	if err := insertEntry(ctx, tx, userID, jobID, domain.LedgerRelease, reserved); err != nil {
		return fmt.Errorf("op=ledger.release.insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=ledger.release.commit: %w", err)
	}
	committed = true
	return nil
}

// Finalize settles a completed job at finalAmount, crediting back the
// difference when the reservation exceeded what actually ran (spec.md §4.2
// "charge for what ran, not what was requested").
func (r *LedgerRepo) Finalize(ctx domain.Context, userID, jobID string, finalAmount int64) error {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Finalize")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"))

	tx, err := r.begin(ctx)
	if err != nil {
		return fmt.Errorf("op=ledger.finalize.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("failed to rollback finalize transaction", slog.String("job_id", jobID), slog.Any("error", rbErr))
			}
		}
	}()

	if err := lockUser(ctx, tx, userID); err != nil {
		return fmt.Errorf("op=ledger.finalize.lock: %w", err)
	}

	if exists, err := entryExists(ctx, tx, userID, jobID, domain.LedgerFinalize); err != nil {
		return fmt.Errorf("op=ledger.finalize.check_idempotency: %w", err)
	} else if exists {
		committed = true
		return tx.Commit(ctx)
	}

	reserved, err := reservedAmount(ctx, tx, userID, jobID)
	if err != nil {
		return fmt.Errorf("op=ledger.finalize.reserved_amount: %w", err)
	}
	refund := reserved - finalAmount
	if err := insertEntry(ctx, tx, userID, jobID, domain.LedgerFinalize, refund); err != nil {
		return fmt.Errorf("op=ledger.finalize.insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=ledger.finalize.commit: %w", err)
	}
	committed = true
	return nil
}

// Balance returns the user's current credit balance, the sum of all ledger
// deltas (spec.md §3 invariant C1).
func (r *LedgerRepo) Balance(ctx domain.Context, userID string) (int64, error) {
	tracer := otel.Tracer("repo.ledger")
	ctx, span := tracer.Start(ctx, "ledger.Balance")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	row := r.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id=$1`, userID)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return 0, fmt.Errorf("op=ledger.balance: %w", err)
	}
	return balance, nil
}

func entryExists(ctx domain.Context, tx pgx.Tx, userID, jobID string, kind domain.LedgerEntryKind) (bool, error) {
	row := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM credit_ledger WHERE user_id=$1 AND job_id=$2 AND kind=$3)`, userID, jobID, kind)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func queryBalance(ctx domain.Context, tx pgx.Tx, userID string) (int64, error) {
	row := tx.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id=$1`, userID)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func reservedAmount(ctx domain.Context, tx pgx.Tx, userID, jobID string) (int64, error) {
	row := tx.QueryRow(ctx, `SELECT COALESCE(-delta, 0) FROM credit_ledger WHERE user_id=$1 AND job_id=$2 AND kind=$3`, userID, jobID, domain.LedgerReserve)
	var reserved int64
	if err := row.Scan(&reserved); err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return reserved, nil
}

func insertEntry(ctx domain.Context, tx pgx.Tx, userID, jobID string, kind domain.LedgerEntryKind, delta int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO credit_ledger (user_id, job_id, kind, delta, created_at) VALUES ($1,$2,$3,$4,$5)`,
		userID, jobID, kind, delta, time.Now().UTC())
	return err
}
