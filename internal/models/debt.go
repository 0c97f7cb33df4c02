package models

import "time"

// Debt is a running balance between the user and one named person,
// in one direction. The amount never goes below zero.
type Debt struct {
	ID        int64     `json:"id"`
	Person    string    `json:"person"`
	Type      DebtType  `json:"type"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DebtType string

const (
	TypeOwedToMe DebtType = "me_deben"
	TypeIOwe     DebtType = "yo_debo"
)
