// Package repotest provides an in-memory ImportRepository for tests.
package repotest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
	"github.com/FACorreiaa/household-finance/internal/domain/import/repository"
)

// MemoryRepository is a mutex-guarded ImportRepository. The exported hook
// fields inject failures.
type MemoryRepository struct {
	mu sync.Mutex

	members      map[uuid.UUID]map[uuid.UUID]bool
	trees        map[uuid.UUID][]mapping.Category
	transactions map[uuid.UUID][]repository.Transaction
	mappings     map[uuid.UUID][]mapping.Mapping

	// InsertCalls counts InsertTransactions calls, failed or not.
	InsertCalls int

	// FailInsert, when set, is consulted before each InsertTransactions call
	// with its 1-based call number.
	FailInsert func(call int) error
	AccessErr  error
	UpsertErr  error
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		members:      make(map[uuid.UUID]map[uuid.UUID]bool),
		trees:        make(map[uuid.UUID][]mapping.Category),
		transactions: make(map[uuid.UUID][]repository.Transaction),
		mappings:     make(map[uuid.UUID][]mapping.Mapping),
	}
}

var _ repository.ImportRepository = (*MemoryRepository)(nil)

// AddMember grants userID access to accountID.
func (r *MemoryRepository) AddMember(accountID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[accountID] == nil {
		r.members[accountID] = make(map[uuid.UUID]bool)
	}
	r.members[accountID][userID] = true
}

// SetCategoryTree replaces the category tree of accountID.
func (r *MemoryRepository) SetCategoryTree(accountID uuid.UUID, tree []mapping.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trees[accountID] = tree
}

// Transactions returns a copy of the stored transactions of accountID.
func (r *MemoryRepository) Transactions(accountID uuid.UUID) []repository.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repository.Transaction(nil), r.transactions[accountID]...)
}

func (r *MemoryRepository) HasAccess(_ context.Context, accountID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AccessErr != nil {
		return false, r.AccessErr
	}
	return r.members[accountID][userID], nil
}

func (r *MemoryRepository) CategoryTree(_ context.Context, accountID uuid.UUID) ([]mapping.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trees[accountID], nil
}

func (r *MemoryRepository) ListExistingTransactions(_ context.Context, accountID uuid.UUID) ([]repository.ExistingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]repository.ExistingTransaction, 0, len(r.transactions[accountID]))
	for _, tx := range r.transactions[accountID] {
		out = append(out, repository.ExistingTransaction{
			Date:        tx.Date.Format(time.DateOnly),
			Description: tx.Description,
			Amount:      tx.Amount.InexactFloat64(),
		})
	}
	return out, nil
}

func (r *MemoryRepository) InsertTransactions(_ context.Context, txs []repository.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.InsertCalls++
	if r.FailInsert != nil {
		if err := r.FailInsert(r.InsertCalls); err != nil {
			return err
		}
	}
	for _, tx := range txs {
		r.transactions[tx.AccountID] = append(r.transactions[tx.AccountID], tx)
	}
	return nil
}

func (r *MemoryRepository) ListMappings(_ context.Context, accountID uuid.UUID) ([]mapping.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mapping.Mapping{}, r.mappings[accountID]...), nil
}

func (r *MemoryRepository) UpsertMappings(_ context.Context, accountID uuid.UUID, mappings []mapping.Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpsertErr != nil {
		return r.UpsertErr
	}

	existing := r.mappings[accountID]
	for _, m := range mappings {
		replaced := false
		for i := range existing {
			if existing[i].BankCategory == m.BankCategory && existing[i].BankSubcategory == m.BankSubcategory {
				existing[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, m)
		}
	}
	r.mappings[accountID] = existing
	return nil
}
