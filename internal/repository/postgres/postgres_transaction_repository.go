package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmorales/debt-ledger/internal/infrastructure/observability"
	"github.com/jmorales/debt-ledger/internal/models"
	pkgerrors "github.com/jmorales/debt-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresTransactionRepository reads the append-only ledger. Writes
// happen inside PostgresDebtRepository, in the same database transaction
// as the balance change they audit.
type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.Int64("transaction_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetTransactionByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetTransactionByID").Observe(time.Since(start).Seconds())
	}()

	var t models.Transaction
	query := `SELECT id, debt_id, kind, amount, note, created_at FROM transactions WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.DebtID, &t.Kind, &t.Amount, &t.Note, &t.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return &t, nil
}

func (r *PostgresTransactionRepository) ListByDebtID(ctx context.Context, debtID int64) ([]models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ListTransactionsByDebtID")
	span.SetAttributes(attribute.Int64("debt_id", debtID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ListTransactionsByDebtID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ListTransactionsByDebtID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT id, debt_id, kind, amount, note, created_at FROM transactions WHERE debt_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, debtID)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByDebtID", "debt_id", debtID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err = rows.Scan(&t.ID, &t.DebtID, &t.Kind, &t.Amount, &t.Note, &t.CreatedAt); err != nil {
			slog.Error("failed to scan transaction row", "method", "ListByDebtID", "error", err)
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}
