package repository

import (
	"context"

	"github.com/jmorales/debt-ledger/internal/models"
)

type TransactionRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	ListByDebtID(ctx context.Context, debtID int64) ([]models.Transaction, error)
}
