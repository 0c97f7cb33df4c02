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

const debtColumns = "id, person, type, amount, created_at, updated_at"

type PostgresDebtRepository struct {
	db *sql.DB
}

func NewPostgresDebtRepository(db *sql.DB) *PostgresDebtRepository {
	return &PostgresDebtRepository{db: db}
}

func scanDebt(row interface{ Scan(...any) error }) (*models.Debt, error) {
	var d models.Debt
	err := row.Scan(&d.ID, &d.Person, &d.Type, &d.Amount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// insertTransaction appends the audit row inside the caller's database
// transaction so a failed balance write never leaves a dangling record.
func insertTransaction(ctx context.Context, dbTx *sql.Tx, t *models.Transaction) error {
	if t == nil {
		return pkgerrors.ErrNilTransaction
	}
	if !t.Kind.Valid() {
		return pkgerrors.ErrInvalidTransactionKind
	}
	query := `INSERT INTO transactions (debt_id, kind, amount, note) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	return dbTx.QueryRowContext(ctx, query, t.DebtID, t.Kind, t.Amount, t.Note).Scan(&t.ID, &t.CreatedAt)
}

func (r *PostgresDebtRepository) List(ctx context.Context, debtType models.DebtType, q string) ([]models.Debt, error) {
	var err error
	tracer := otel.Tracer("debt-repository")
	ctx, span := tracer.Start(ctx, "ListDebts")
	span.SetAttributes(attribute.String("type", string(debtType)), attribute.String("q", q))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ListDebts", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ListDebts").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + debtColumns + ` FROM debts WHERE type = $1`
	args := []any{debtType}
	if q != "" {
		query += ` AND person ILIKE $2`
		args = append(args, "%"+q+"%")
	}
	query += ` ORDER BY person ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list debts", "method", "List", "type", debtType, "error", err)
		return nil, fmt.Errorf("failed to list debts: %w", err)
	}
	defer rows.Close()

	debts := []models.Debt{}
	for rows.Next() {
		d, scanErr := scanDebt(rows)
		if scanErr != nil {
			err = scanErr
			slog.Error("failed to scan debt row", "method", "List", "error", err)
			return nil, fmt.Errorf("failed to scan debt row: %w", err)
		}
		debts = append(debts, *d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list debts: %w", err)
	}
	return debts, nil
}

func (r *PostgresDebtRepository) GetByID(ctx context.Context, id int64) (*models.Debt, error) {
	var err error
	tracer := otel.Tracer("debt-repository")
	ctx, span := tracer.Start(ctx, "GetDebtByID")
	span.SetAttributes(attribute.Int64("debt_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetDebtByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetDebtByID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + debtColumns + ` FROM debts WHERE id = $1`
	d, err := scanDebt(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrDebtNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get debt by id", "method", "GetByID", "debt_id", id, "error", err)
		return nil, fmt.Errorf("failed to get debt by id: %w", err)
	}
	return d, nil
}

func (r *PostgresDebtRepository) FindByPersonAndType(ctx context.Context, person string, debtType models.DebtType) (*models.Debt, error) {
	var err error
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RepositoryCalls.WithLabelValues("FindDebtByPersonAndType", status).Inc()
		observability.RepositoryDuration.WithLabelValues("FindDebtByPersonAndType").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + debtColumns + ` FROM debts WHERE LOWER(person) = LOWER($1) AND type = $2 LIMIT 1`
	d, err := scanDebt(r.db.QueryRowContext(ctx, query, person, debtType))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrDebtNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to find debt", "method", "FindByPersonAndType", "person", person, "type", debtType, "error", err)
		return nil, fmt.Errorf("failed to find debt by person and type: %w", err)
	}
	return d, nil
}

func (r *PostgresDebtRepository) Create(ctx context.Context, debt *models.Debt, note string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("debt-repository")
	ctx, span := tracer.Start(ctx, "CreateDebt")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateDebt", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateDebt").Observe(time.Since(start).Seconds())
	}()

	if debt == nil {
		err = pkgerrors.ErrNilDebt
		return nil, err
	}
	span.SetAttributes(
		attribute.String("person", debt.Person),
		attribute.String("type", string(debt.Type)),
		attribute.Float64("amount", debt.Amount),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Create", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `INSERT INTO debts (person, type, amount) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`
	err = dbTx.QueryRowContext(ctx, query, debt.Person, debt.Type, debt.Amount).Scan(&debt.ID, &debt.CreatedAt, &debt.UpdatedAt)
	if err != nil {
		err = rollback(dbTx, err, "Create")
		return nil, fmt.Errorf("failed to create debt: %w", err)
	}

	t := &models.Transaction{
		DebtID: debt.ID,
		Kind:   models.KindCreation,
		Amount: debt.Amount,
		Note:   note,
	}
	if err = insertTransaction(ctx, dbTx, t); err != nil {
		err = rollback(dbTx, err, "Create")
		return nil, fmt.Errorf("failed to record creation transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Create", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("debt created", "method", "Create", "debt_id", debt.ID, "person", debt.Person, "type", debt.Type, "amount", debt.Amount)
	return t, nil
}

func (r *PostgresDebtRepository) Accumulate(ctx context.Context, id int64, amount float64, note string) (*models.Debt, *models.Transaction, error) {
	return r.mutate(ctx, "AccumulateDebt", id,
		`UPDATE debts SET amount = amount + $1, updated_at = now() WHERE id = $2 RETURNING `+debtColumns,
		amount, models.KindIncrease, amount, note)
}

func (r *PostgresDebtRepository) Pay(ctx context.Context, id int64, amount float64, note string) (*models.Debt, *models.Transaction, error) {
	// The balance is clamped at zero, but the audit row records the raw
	// input amount, not the clamped delta.
	return r.mutate(ctx, "PayDebt", id,
		`UPDATE debts SET amount = GREATEST(amount - $1, 0), updated_at = now() WHERE id = $2 RETURNING `+debtColumns,
		amount, models.KindPayment, amount, note)
}

// mutate runs one balance update plus its audit insert in a single
// database transaction. Balance arithmetic happens in SQL, so two
// concurrent mutations of the same id cannot lose an update.
func (r *PostgresDebtRepository) mutate(ctx context.Context, op string, id int64, updateQuery string, updateArg float64, kind models.TransactionKind, txAmount float64, note string) (*models.Debt, *models.Transaction, error) {
	var err error
	tracer := otel.Tracer("debt-repository")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.Int64("debt_id", id), attribute.Float64("amount", txAmount))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(op, status).Inc()
		observability.RepositoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", op, "error", err)
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	d, err := scanDebt(dbTx.QueryRowContext(ctx, updateQuery, updateArg, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		dbTx.Rollback()
		err = pkgerrors.ErrDebtNotFound
		return nil, nil, err
	}
	if err != nil {
		err = rollback(dbTx, err, op)
		return nil, nil, fmt.Errorf("failed to update debt: %w", err)
	}

	t := &models.Transaction{
		DebtID: id,
		Kind:   kind,
		Amount: txAmount,
		Note:   note,
	}
	if err = insertTransaction(ctx, dbTx, t); err != nil {
		err = rollback(dbTx, err, op)
		return nil, nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", op, "error", err)
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("debt updated", "method", op, "debt_id", id, "kind", kind, "amount", txAmount, "balance", d.Amount)
	return d, t, nil
}

func (r *PostgresDebtRepository) PayAll(ctx context.Context, id int64, note string) (*models.Debt, *models.Transaction, error) {
	var err error
	tracer := otel.Tracer("debt-repository")
	ctx, span := tracer.Start(ctx, "PayAllDebt")
	span.SetAttributes(attribute.Int64("debt_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("PayAllDebt", status).Inc()
		observability.RepositoryDuration.WithLabelValues("PayAllDebt").Observe(time.Since(start).Seconds())
	}()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "PayAll", "error", err)
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// FOR UPDATE so the read balance cannot change before the zeroing
	// write commits.
	d, err := scanDebt(dbTx.QueryRowContext(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = $1 FOR UPDATE`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		dbTx.Rollback()
		err = pkgerrors.ErrDebtNotFound
		return nil, nil, err
	}
	if err != nil {
		err = rollback(dbTx, err, "PayAll")
		return nil, nil, fmt.Errorf("failed to get debt: %w", err)
	}

	if d.Amount == 0 {
		// Already settled: no transaction row, unchanged debt.
		if err = dbTx.Commit(); err != nil {
			return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		slog.Info("debt already settled", "method", "PayAll", "debt_id", id)
		return d, nil, nil
	}

	prevAmount := d.Amount
	d, err = scanDebt(dbTx.QueryRowContext(ctx, `UPDATE debts SET amount = 0, updated_at = now() WHERE id = $1 RETURNING `+debtColumns, id))
	if err != nil {
		err = rollback(dbTx, err, "PayAll")
		return nil, nil, fmt.Errorf("failed to settle debt: %w", err)
	}

	t := &models.Transaction{
		DebtID: id,
		Kind:   models.KindPayAll,
		Amount: prevAmount,
		Note:   note,
	}
	if err = insertTransaction(ctx, dbTx, t); err != nil {
		err = rollback(dbTx, err, "PayAll")
		return nil, nil, fmt.Errorf("failed to record settlement transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "PayAll", "error", err)
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("debt settled", "method", "PayAll", "debt_id", id, "amount", prevAmount)
	return d, t, nil
}

func (r *PostgresDebtRepository) Delete(ctx context.Context, id int64) error {
	var err error
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RepositoryCalls.WithLabelValues("DeleteDebt", status).Inc()
		observability.RepositoryDuration.WithLabelValues("DeleteDebt").Observe(time.Since(start).Seconds())
	}()

	// No existence check: deleting an absent id is a success. Related
	// transaction rows are kept as the historical ledger.
	_, err = r.db.ExecContext(ctx, `DELETE FROM debts WHERE id = $1`, id)
	if err != nil {
		slog.Error("failed to delete debt", "method", "Delete", "debt_id", id, "error", err)
		return fmt.Errorf("failed to delete debt: %w", err)
	}
	slog.Info("debt deleted", "method", "Delete", "debt_id", id)
	return nil
}

func rollback(dbTx *sql.Tx, original error, method string) error {
	if rbErr := dbTx.Rollback(); rbErr != nil {
		slog.Error("rollback failed", "method", method, "error", rbErr)
		return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, original)
	}
	slog.Error("database operation failed", "method", method, "error", original)
	return original
}
