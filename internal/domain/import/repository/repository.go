// Package repository persists imported transactions and remembered category
// mappings, and reads the household data an import depends on.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
)

// Transaction is a row to insert into the transactions table.
type Transaction struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	SubcategoryID   *uuid.UUID
	Date            time.Time
	Description     string
	Amount          decimal.Decimal
	BankCategory    string
	BankSubcategory string
}

// ExistingTransaction carries the fields of a stored transaction that take
// part in duplicate detection.
type ExistingTransaction struct {
	Date        string // YYYY-MM-DD
	Description string
	Amount      float64
}

// ImportRepository is everything the import service needs from storage.
type ImportRepository interface {
	HasAccess(ctx context.Context, accountID, userID uuid.UUID) (bool, error)
	CategoryTree(ctx context.Context, accountID uuid.UUID) ([]mapping.Category, error)

	ListExistingTransactions(ctx context.Context, accountID uuid.UUID) ([]ExistingTransaction, error)
	InsertTransactions(ctx context.Context, txs []Transaction) error

	ListMappings(ctx context.Context, accountID uuid.UUID) ([]mapping.Mapping, error)
	UpsertMappings(ctx context.Context, accountID uuid.UUID, mappings []mapping.Mapping) error
}
