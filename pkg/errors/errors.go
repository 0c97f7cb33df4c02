package errors

import "errors"

var (
	ErrDebtNotFound           = errors.New("debt not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrNilDebt                = errors.New("debt is nil")
	ErrNilTransaction         = errors.New("transaction is nil")
	ErrInvalidTransactionKind = errors.New("invalid transaction kind")
	ErrMissingFields          = errors.New("missing required fields: name, amount, type")
	ErrInvalidAmount          = errors.New("amount must be a positive number")
	ErrInvalidDebtID          = errors.New("invalid debt id")
)
