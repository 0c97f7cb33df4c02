package repository

import (
	"context"

	"github.com/jmorales/debt-ledger/internal/models"
)

// DebtRepository owns the debts table. Every mutation appends its audit
// transaction inside the same database transaction as the balance write.
type DebtRepository interface {
	List(ctx context.Context, debtType models.DebtType, q string) ([]models.Debt, error)
	GetByID(ctx context.Context, id int64) (*models.Debt, error)
	// FindByPersonAndType matches person case-insensitively. Returns
	// ErrDebtNotFound when no row matches.
	FindByPersonAndType(ctx context.Context, person string, debtType models.DebtType) (*models.Debt, error)
	Create(ctx context.Context, debt *models.Debt, note string) (*models.Transaction, error)
	Accumulate(ctx context.Context, id int64, amount float64, note string) (*models.Debt, *models.Transaction, error)
	// Pay clamps the balance at zero but logs the raw input amount.
	Pay(ctx context.Context, id int64, amount float64, note string) (*models.Debt, *models.Transaction, error)
	// PayAll returns a nil transaction when the balance was already
	// zero (idempotent no-op).
	PayAll(ctx context.Context, id int64, note string) (*models.Debt, *models.Transaction, error)
	Delete(ctx context.Context, id int64) error
}
