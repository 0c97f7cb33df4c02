package models

import "time"

// Transaction is an append-only audit record of one balance change.
// For KindPayAll the amount is the balance that was outstanding before
// zeroing, not zero.
type Transaction struct {
	ID        int64           `json:"id"`
	DebtID    int64           `json:"debt_id"`
	Kind      TransactionKind `json:"kind"`
	Amount    float64         `json:"amount"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

type TransactionKind string

const (
	KindCreation TransactionKind = "creacion"
	KindIncrease TransactionKind = "aumento"
	KindPayment  TransactionKind = "pago"
	KindPayAll   TransactionKind = "pago_total"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindCreation, KindIncrease, KindPayment, KindPayAll:
		return true
	}
	return false
}
