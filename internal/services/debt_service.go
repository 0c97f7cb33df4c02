package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jmorales/debt-ledger/internal/infrastructure/kafka"
	"github.com/jmorales/debt-ledger/internal/infrastructure/redis"
	"github.com/jmorales/debt-ledger/internal/models"
	"github.com/jmorales/debt-ledger/internal/repository"
	pkgerrors "github.com/jmorales/debt-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Transaction notes, kept verbatim for compatibility with existing data.
const (
	noteCreation = "Creación mediante API"
	noteMerge    = "Aumento mediante API"
	noteIncrease = "Aumento por endpoint /increase"
	notePayment  = "Pago parcial"
	notePayAll   = "Pago total"
)

const debtCacheTTL = time.Minute

type DebtService interface {
	ListDebts(ctx context.Context, debtType, q string) ([]models.Debt, error)
	GetDebt(ctx context.Context, id int64) (*models.Debt, error)
	// CreateOrAccumulate merges into an existing debt with the same
	// person (case-insensitive) and type, or creates a new one. The
	// returned bool reports whether a new debt was created.
	CreateOrAccumulate(ctx context.Context, name string, amount float64, debtType string) (*models.Debt, bool, error)
	Increase(ctx context.Context, id int64, amount float64) (*models.Debt, error)
	Pay(ctx context.Context, id int64, amount float64) (*models.Debt, error)
	PayAll(ctx context.Context, id int64) (*models.Debt, error)
	DeleteDebt(ctx context.Context, id int64) error
	GetHistory(ctx context.Context, id int64) ([]models.Transaction, error)
}

type debtService struct {
	debtRepo        repository.DebtRepository
	transactionRepo repository.TransactionRepository
	redisClient     redis.RedisClient
	producer        kafka.LedgerProducer
}

func NewDebtService(
	debtRepo repository.DebtRepository,
	transactionRepo repository.TransactionRepository,
	redisClient redis.RedisClient,
	producer kafka.LedgerProducer,
) *debtService {
	return &debtService{
		debtRepo:        debtRepo,
		transactionRepo: transactionRepo,
		redisClient:     redisClient,
		producer:        producer,
	}
}

func validateAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	return nil
}

func debtCacheKey(id int64) string {
	return fmt.Sprintf("debt:%d", id)
}

func (s *debtService) ListDebts(ctx context.Context, debtType, q string) ([]models.Debt, error) {
	if debtType == "" {
		debtType = string(models.TypeOwedToMe)
	}
	return s.debtRepo.List(ctx, models.DebtType(debtType), q)
}

func (s *debtService) GetDebt(ctx context.Context, id int64) (*models.Debt, error) {
	key := debtCacheKey(id)
	if cached, err := s.redisClient.Get(ctx, key); err == nil {
		var d models.Debt
		if err := json.Unmarshal([]byte(cached), &d); err == nil {
			return &d, nil
		}
		slog.Warn("failed to unmarshal cached debt", "debt_id", id)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("failed to read debt from cache", "debt_id", id, "error", err)
	}

	d, err := s.debtRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if debtJSON, err := json.Marshal(d); err == nil {
		if err := s.redisClient.Set(ctx, key, string(debtJSON), debtCacheTTL); err != nil {
			slog.Warn("failed to cache debt", "debt_id", id, "error", err)
		}
	}
	return d, nil
}

func (s *debtService) CreateOrAccumulate(ctx context.Context, name string, amount float64, debtType string) (*models.Debt, bool, error) {
	tracer := otel.Tracer("debt-service")
	ctx, span := tracer.Start(ctx, "CreateOrAccumulate")
	defer span.End()

	if strings.TrimSpace(name) == "" || debtType == "" {
		span.SetStatus(codes.Error, "missing fields")
		return nil, false, pkgerrors.ErrMissingFields
	}
	if err := validateAmount(amount); err != nil {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, false, err
	}

	// Natural-key check is application-enforced: the schema has no
	// unique constraint on (LOWER(person), type).
	existing, err := s.debtRepo.FindByPersonAndType(ctx, name, models.DebtType(debtType))
	if err != nil && !stderrors.Is(err, pkgerrors.ErrDebtNotFound) {
		span.RecordError(err)
		return nil, false, err
	}

	if existing != nil {
		d, t, err := s.debtRepo.Accumulate(ctx, existing.ID, amount, noteMerge)
		if err != nil {
			span.RecordError(err)
			return nil, false, err
		}
		s.invalidate(ctx, d.ID)
		s.publishTransaction(ctx, t)
		slog.Info("debt merged", "debt_id", d.ID, "person", d.Person, "amount", amount, "balance", d.Amount)
		return d, false, nil
	}

	debt := &models.Debt{
		Person: name,
		Type:   models.DebtType(debtType),
		Amount: amount,
	}
	t, err := s.debtRepo.Create(ctx, debt, noteCreation)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	s.publishTransaction(ctx, t)
	return debt, true, nil
}

func (s *debtService) Increase(ctx context.Context, id int64, amount float64) (*models.Debt, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	d, t, err := s.debtRepo.Accumulate(ctx, id, amount, noteIncrease)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	s.publishTransaction(ctx, t)
	return d, nil
}

func (s *debtService) Pay(ctx context.Context, id int64, amount float64) (*models.Debt, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	d, t, err := s.debtRepo.Pay(ctx, id, amount, notePayment)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	s.publishTransaction(ctx, t)
	return d, nil
}

func (s *debtService) PayAll(ctx context.Context, id int64) (*models.Debt, error) {
	d, t, err := s.debtRepo.PayAll(ctx, id, notePayAll)
	if err != nil {
		return nil, err
	}
	if t == nil {
		// Balance was already zero: nothing changed, nothing to publish.
		return d, nil
	}
	s.invalidate(ctx, id)
	s.publishTransaction(ctx, t)
	return d, nil
}

func (s *debtService) DeleteDebt(ctx context.Context, id int64) error {
	if err := s.debtRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *debtService) GetHistory(ctx context.Context, id int64) ([]models.Transaction, error) {
	if _, err := s.debtRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.transactionRepo.ListByDebtID(ctx, id)
}

func (s *debtService) invalidate(ctx context.Context, id int64) {
	if err := s.redisClient.Del(ctx, debtCacheKey(id)); err != nil {
		slog.Warn("failed to invalidate debt cache", "debt_id", id, "error", err)
	}
}

// publishTransaction sends the audit record to Kafka. Delivery is best
// effort: a broker failure is logged and the request still succeeds.
func (s *debtService) publishTransaction(ctx context.Context, t *models.Transaction) {
	if t == nil {
		return
	}
	event := map[string]interface{}{
		"event_type":     "debt_transaction",
		"transaction_id": t.ID,
		"debt_id":        t.DebtID,
		"kind":           t.Kind,
		"amount":         t.Amount,
		"note":           t.Note,
		"created_at":     t.CreatedAt.UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal transaction event", "transaction_id", t.ID, "error", err)
		return
	}
	if err := s.producer.Send(ctx, t.DebtID, eventBytes); err != nil {
		slog.Error("failed to publish transaction event", "transaction_id", t.ID, "debt_id", t.DebtID, "error", err)
	}
}
