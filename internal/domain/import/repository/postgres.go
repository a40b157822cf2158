package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
)

// DBTX is the subset of pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresImportRepository implements ImportRepository with pgx.
type PostgresImportRepository struct {
	db DBTX
}

// NewPostgresImportRepository creates a repository over a pool or any DBTX.
func NewPostgresImportRepository(db DBTX) *PostgresImportRepository {
	return &PostgresImportRepository{db: db}
}

var _ ImportRepository = (*PostgresImportRepository)(nil)

// HasAccess reports whether userID is a member of accountID.
func (r *PostgresImportRepository) HasAccess(ctx context.Context, accountID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM account_members WHERE account_id = $1 AND user_id = $2
		)
	`

	var ok bool
	if err := r.db.QueryRow(ctx, query, accountID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check account access: %w", err)
	}
	return ok, nil
}

// CategoryTree returns the account's categories with their subcategories,
// both in display order.
func (r *PostgresImportRepository) CategoryTree(ctx context.Context, accountID uuid.UUID) ([]mapping.Category, error) {
	query := `
		SELECT c.id, c.name, s.id, s.name
		FROM categories c
		LEFT JOIN subcategories s ON s.category_id = c.id
		WHERE c.account_id = $1
		ORDER BY c.position, c.name, s.position, s.name
	`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load category tree: %w", err)
	}
	defer rows.Close()

	var tree []mapping.Category
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			catID   uuid.UUID
			catName string
			subID   *uuid.UUID
			subName *string
		)
		if err := rows.Scan(&catID, &catName, &subID, &subName); err != nil {
			return nil, err
		}

		i, ok := index[catID]
		if !ok {
			i = len(tree)
			index[catID] = i
			tree = append(tree, mapping.Category{ID: catID, Name: catName})
		}
		if subID != nil && subName != nil {
			tree[i].Subcategories = append(tree[i].Subcategories, mapping.Subcategory{ID: *subID, Name: *subName})
		}
	}
	return tree, rows.Err()
}

// ListExistingTransactions returns the dedup fields of every stored
// transaction of the account.
func (r *PostgresImportRepository) ListExistingTransactions(ctx context.Context, accountID uuid.UUID) ([]ExistingTransaction, error) {
	query := `
		SELECT to_char(date, 'YYYY-MM-DD'), description, amount::text
		FROM transactions
		WHERE account_id = $1
	`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var existing []ExistingTransaction
	for rows.Next() {
		var (
			tx     ExistingTransaction
			amount string
		)
		if err := rows.Scan(&tx.Date, &tx.Description, &amount); err != nil {
			return nil, err
		}
		tx.Amount, err = strconv.ParseFloat(amount, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
		}
		existing = append(existing, tx)
	}
	return existing, rows.Err()
}

const transactionColumns = 8

// InsertTransactions writes txs in a single multi-row statement, so a batch
// is stored completely or not at all.
func (r *PostgresImportRepository) InsertTransactions(ctx context.Context, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO transactions (
		id, account_id, subcategory_id, date, description, amount, bank_category, bank_subcategory
	) VALUES `)

	args := make([]any, 0, len(txs)*transactionColumns)
	for i, tx := range txs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders(i*transactionColumns, transactionColumns))
		args = append(args,
			tx.ID, tx.AccountID, tx.SubcategoryID, tx.Date, tx.Description, tx.Amount,
			nullIfEmpty(tx.BankCategory), nullIfEmpty(tx.BankSubcategory),
		)
	}

	if _, err := r.db.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to insert transactions: %w", err)
	}
	return nil
}

// ListMappings returns the saved category mappings of the account.
func (r *PostgresImportRepository) ListMappings(ctx context.Context, accountID uuid.UUID) ([]mapping.Mapping, error) {
	query := `
		SELECT bank_category, bank_subcategory, subcategory_id
		FROM import_category_mappings
		WHERE account_id = $1
		ORDER BY bank_category, bank_subcategory
	`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list category mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]mapping.Mapping, 0)
	for rows.Next() {
		var m mapping.Mapping
		if err := rows.Scan(&m.BankCategory, &m.BankSubcategory, &m.SubcategoryID); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// UpsertMappings creates or replaces mappings keyed by the bank category
// pair. When the same pair appears twice the later entry wins.
func (r *PostgresImportRepository) UpsertMappings(ctx context.Context, accountID uuid.UUID, mappings []mapping.Mapping) error {
	mappings = dedupeMappings(mappings)
	if len(mappings) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO import_category_mappings (
		account_id, bank_category, bank_subcategory, subcategory_id
	) VALUES `)

	args := make([]any, 0, len(mappings)*4)
	for i, m := range mappings {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders(i*4, 4))
		args = append(args, accountID, m.BankCategory, m.BankSubcategory, m.SubcategoryID)
	}
	b.WriteString(`
		ON CONFLICT (account_id, bank_category, bank_subcategory) DO UPDATE SET
			subcategory_id = EXCLUDED.subcategory_id,
			updated_at = now()`)

	if _, err := r.db.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to upsert category mappings: %w", err)
	}
	return nil
}

func dedupeMappings(mappings []mapping.Mapping) []mapping.Mapping {
	pos := make(map[[2]string]int, len(mappings))
	out := make([]mapping.Mapping, 0, len(mappings))
	for _, m := range mappings {
		key := [2]string{m.BankCategory, m.BankSubcategory}
		if i, ok := pos[key]; ok {
			out[i] = m
			continue
		}
		pos[key] = len(out)
		out = append(out, m)
	}
	return out
}

// placeholders renders "($n+1, ..., $n+count)".
func placeholders(offset, count int) string {
	var b strings.Builder
	b.WriteByte('(')
	for j := 1; j <= count; j++ {
		if j > 1 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(offset + j))
	}
	b.WriteByte(')')
	return b.String()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
