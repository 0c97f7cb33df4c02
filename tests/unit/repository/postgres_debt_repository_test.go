package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmorales/debt-ledger/internal/models"
	repository "github.com/jmorales/debt-ledger/internal/repository/postgres"
	pkgerrors "github.com/jmorales/debt-ledger/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var debtCols = []string{"id", "person", "type", "amount", "created_at", "updated_at"}

func debtRow(id int64, person string, debtType models.DebtType, amount float64, ts time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(debtCols).AddRow(id, person, string(debtType), amount, ts, ts)
}

func TestPostgresDebtRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	query := regexp.QuoteMeta(`SELECT id, person, type, amount, created_at, updated_at FROM debts WHERE id = $1`)

	t.Run("Success", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectQuery(query).
			WithArgs(int64(1)).
			WillReturnRows(debtRow(1, "Ana", models.TypeOwedToMe, 100, ts))

		debt, err := repo.GetByID(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), debt.ID)
		assert.Equal(t, "Ana", debt.Person)
		assert.Equal(t, models.TypeOwedToMe, debt.Type)
		assert.Equal(t, float64(100), debt.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DebtNotFound", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(int64(2)).
			WillReturnError(sql.ErrNoRows)

		debt, err := repo.GetByID(ctx, 2)
		assert.Nil(t, debt)
		assert.ErrorIs(t, err, pkgerrors.ErrDebtNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(int64(1)).
			WillReturnError(fmt.Errorf("database error"))

		debt, err := repo.GetByID(ctx, 1)
		assert.Nil(t, debt)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get debt by id")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDebtRepository_FindByPersonAndType(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	query := regexp.QuoteMeta(`SELECT id, person, type, amount, created_at, updated_at FROM debts WHERE LOWER(person) = LOWER($1) AND type = $2 LIMIT 1`)

	t.Run("Success", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectQuery(query).
			WithArgs("ANA", string(models.TypeOwedToMe)).
			WillReturnRows(debtRow(1, "Ana", models.TypeOwedToMe, 100, ts))

		debt, err := repo.FindByPersonAndType(ctx, "ANA", models.TypeOwedToMe)
		assert.NoError(t, err)
		assert.Equal(t, "Ana", debt.Person)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DebtNotFound", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs("Luis", string(models.TypeIOwe)).
			WillReturnError(sql.ErrNoRows)

		debt, err := repo.FindByPersonAndType(ctx, "Luis", models.TypeIOwe)
		assert.Nil(t, debt)
		assert.ErrorIs(t, err, pkgerrors.ErrDebtNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDebtRepository_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	t.Run("ByTypeOnly", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, person, type, amount, created_at, updated_at FROM debts WHERE type = $1 ORDER BY person ASC`)).
			WithArgs(string(models.TypeOwedToMe)).
			WillReturnRows(sqlmock.NewRows(debtCols).
				AddRow(int64(2), "Ana", "me_deben", 100.0, ts, ts).
				AddRow(int64(1), "Luis", "me_deben", 50.0, ts, ts))

		debts, err := repo.List(ctx, models.TypeOwedToMe, "")
		assert.NoError(t, err)
		assert.Len(t, debts, 2)
		assert.Equal(t, "Ana", debts[0].Person)
		assert.Equal(t, "Luis", debts[1].Person)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("WithSearch", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, person, type, amount, created_at, updated_at FROM debts WHERE type = $1 AND person ILIKE $2 ORDER BY person ASC`)).
			WithArgs(string(models.TypeIOwe), "%ana%").
			WillReturnRows(sqlmock.NewRows(debtCols).
				AddRow(int64(3), "Ana Maria", "yo_debo", 10.0, ts, ts))

		debts, err := repo.List(ctx, models.TypeIOwe, "ana")
		assert.NoError(t, err)
		assert.Len(t, debts, 1)
		assert.Equal(t, "Ana Maria", debts[0].Person)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Empty", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, person, type, amount, created_at, updated_at FROM debts WHERE type = $1 ORDER BY person ASC`)).
			WithArgs(string(models.TypeIOwe)).
			WillReturnRows(sqlmock.NewRows(debtCols))

		debts, err := repo.List(ctx, models.TypeIOwe, "")
		assert.NoError(t, err)
		assert.NotNil(t, debts)
		assert.Len(t, debts, 0)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDebtRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	insertDebt := regexp.QuoteMeta(`INSERT INTO debts (person, type, amount) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`)
	insertTx := regexp.QuoteMeta(`INSERT INTO transactions (debt_id, kind, amount, note) VALUES ($1, $2, $3, $4) RETURNING id, created_at`)

	t.Run("NilDebt", func(t *testing.T) {
		tx, err := repo.Create(ctx, nil, "note")
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrNilDebt)
	})

	t.Run("Success", func(t *testing.T) {
		ts := time.Now().UTC()
		debt := &models.Debt{Person: "Ana", Type: models.TypeOwedToMe, Amount: 100}

		mock.ExpectBegin()
		mock.ExpectQuery(insertDebt).
			WithArgs("Ana", string(models.TypeOwedToMe), 100.0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), ts, ts))
		mock.ExpectQuery(insertTx).
			WithArgs(int64(1), string(models.KindCreation), 100.0, "Creación mediante API").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), ts))
		mock.ExpectCommit()

		tx, err := repo.Create(ctx, debt, "Creación mediante API")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), debt.ID)
		assert.Equal(t, models.KindCreation, tx.Kind)
		assert.Equal(t, float64(100), tx.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AuditInsertFailureRollsBack", func(t *testing.T) {
		ts := time.Now().UTC()
		debt := &models.Debt{Person: "Ana", Type: models.TypeOwedToMe, Amount: 100}

		mock.ExpectBegin()
		mock.ExpectQuery(insertDebt).
			WithArgs("Ana", string(models.TypeOwedToMe), 100.0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), ts, ts))
		mock.ExpectQuery(insertTx).
			WithArgs(int64(1), string(models.KindCreation), 100.0, "Creación mediante API").
			WillReturnError(fmt.Errorf("database error"))
		mock.ExpectRollback()

		tx, err := repo.Create(ctx, debt, "Creación mediante API")
		assert.Nil(t, tx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record creation transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDebtRepository_Accumulate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	update := regexp.QuoteMeta(`UPDATE debts SET amount = amount + $1, updated_at = now() WHERE id = $2 RETURNING id, person, type, amount, created_at, updated_at`)
	insertTx := regexp.QuoteMeta(`INSERT INTO transactions (debt_id, kind, amount, note) VALUES ($1, $2, $3, $4) RETURNING id, created_at`)

	t.Run("Success", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectBegin()
		mock.ExpectQuery(update).
			WithArgs(50.0, int64(1)).
			WillReturnRows(debtRow(1, "Ana", models.TypeOwedToMe, 150, ts))
		mock.ExpectQuery(insertTx).
			WithArgs(int64(1), string(models.KindIncrease), 50.0, "Aumento mediante API").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), ts))
		mock.ExpectCommit()

		debt, tx, err := repo.Accumulate(ctx, 1, 50, "Aumento mediante API")
		assert.NoError(t, err)
		assert.Equal(t, float64(150), debt.Amount)
		assert.Equal(t, models.KindIncrease, tx.Kind)
		assert.Equal(t, float64(50), tx.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DebtNotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(update).
			WithArgs(50.0, int64(9)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		debt, tx, err := repo.Accumulate(ctx, 9, 50, "Aumento mediante API")
		assert.Nil(t, debt)
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrDebtNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDebtRepository_Pay(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	update := regexp.QuoteMeta(`UPDATE debts SET amount = GREATEST(amount - $1, 0), updated_at = now() WHERE id = $2 RETURNING id, person, type, amount, created_at, updated_at`)
	insertTx := regexp.QuoteMeta(`INSERT INTO transactions (debt_id, kind, amount, note) VALUES ($1, $2, $3, $4) RETURNING id, created_at`)

	t.Run("OverpaymentClampsToZeroButLogsInputAmount", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectBegin()
		mock.ExpectQuery(update).
			WithArgs(80.0, int64(1)).
			WillReturnRows(debtRow(1, "Ana", models.TypeOwedToMe, 0, ts))
		mock.ExpectQuery(insertTx).
			WithArgs(int64(1), string(models.KindPayment), 80.0, "Pago parcial").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), ts))
		mock.ExpectCommit()

		debt, tx, err := repo.Pay(ctx, 1, 80, "Pago parcial")
		assert.NoError(t, err)
		assert.Equal(t, float64(0), debt.Amount)
		assert.Equal(t, float64(80), tx.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDebtRepository_PayAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	selectForUpdate := regexp.QuoteMeta(`SELECT id, person, type, amount, created_at, updated_at FROM debts WHERE id = $1 FOR UPDATE`)
	settle := regexp.QuoteMeta(`UPDATE debts SET amount = 0, updated_at = now() WHERE id = $1 RETURNING id, person, type, amount, created_at, updated_at`)
	insertTx := regexp.QuoteMeta(`INSERT INTO transactions (debt_id, kind, amount, note) VALUES ($1, $2, $3, $4) RETURNING id, created_at`)

	t.Run("SettlesOutstandingBalance", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).
			WithArgs(int64(1)).
			WillReturnRows(debtRow(1, "Ana", models.TypeOwedToMe, 70, ts))
		mock.ExpectQuery(settle).
			WithArgs(int64(1)).
			WillReturnRows(debtRow(1, "Ana", models.TypeOwedToMe, 0, ts))
		mock.ExpectQuery(insertTx).
			WithArgs(int64(1), string(models.KindPayAll), 70.0, "Pago total").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(4), ts))
		mock.ExpectCommit()

		debt, tx, err := repo.PayAll(ctx, 1, "Pago total")
		assert.NoError(t, err)
		assert.Equal(t, float64(0), debt.Amount)
		assert.Equal(t, models.KindPayAll, tx.Kind)
		assert.Equal(t, float64(70), tx.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyZeroIsNoOp", func(t *testing.T) {
		ts := time.Now().UTC()
		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).
			WithArgs(int64(1)).
			WillReturnRows(debtRow(1, "Ana", models.TypeOwedToMe, 0, ts))
		mock.ExpectCommit()

		debt, tx, err := repo.PayAll(ctx, 1, "Pago total")
		assert.NoError(t, err)
		assert.Equal(t, float64(0), debt.Amount)
		assert.Nil(t, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DebtNotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).
			WithArgs(int64(5)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		debt, tx, err := repo.PayAll(ctx, 5, "Pago total")
		assert.Nil(t, debt)
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrDebtNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDebtRepository_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresDebtRepository(db)
	ctx := context.Background()

	query := regexp.QuoteMeta(`DELETE FROM debts WHERE id = $1`)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Delete(ctx, 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingRowStillSucceeds", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, repo.Delete(ctx, 99))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(int64(1)).
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Delete(ctx, 1)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to delete debt")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
