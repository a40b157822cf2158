package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresImportRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresImportRepository(mock)
}

func TestPostgresImportRepository_HasAccess(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(accountID, userID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasAccess(context.Background(), accountID, userID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresImportRepository_HasAccess_Error(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(accountID, userID).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.HasAccess(context.Background(), accountID, userID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check account access")
}

func TestPostgresImportRepository_CategoryTree(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID := uuid.New()
	ocio, mascotas := uuid.New(), uuid.New()
	cine, rest := uuid.New(), uuid.New()
	cineName, restName := "Cine", "Restaurantes"

	mock.ExpectQuery(`FROM categories c`).
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "sub_id", "sub_name"}).
			AddRow(ocio, "Ocio", &rest, &restName).
			AddRow(ocio, "Ocio", &cine, &cineName).
			AddRow(mascotas, "Mascotas", (*uuid.UUID)(nil), (*string)(nil)))

	tree, err := repo.CategoryTree(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, tree, 2)

	assert.Equal(t, "Ocio", tree[0].Name)
	assert.Equal(t, []mapping.Subcategory{{ID: rest, Name: "Restaurantes"}, {ID: cine, Name: "Cine"}}, tree[0].Subcategories)
	assert.Equal(t, "Mascotas", tree[1].Name)
	assert.Empty(t, tree[1].Subcategories)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresImportRepository_ListExistingTransactions(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID := uuid.New()

	mock.ExpectQuery(`SELECT to_char\(date, 'YYYY-MM-DD'\), description, amount::text`).
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"date", "description", "amount"}).
			AddRow("2024-03-01", "MERCADONA", "-23.45").
			AddRow("2024-03-02", "Nómina", "1500.00"))

	existing, err := repo.ListExistingTransactions(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, []ExistingTransaction{
		{Date: "2024-03-01", Description: "MERCADONA", Amount: -23.45},
		{Date: "2024-03-02", Description: "Nómina", Amount: 1500},
	}, existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresImportRepository_InsertTransactions(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID := uuid.New()
	sub := uuid.New()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	txs := []Transaction{
		{ID: uuid.New(), AccountID: accountID, SubcategoryID: &sub, Date: date, Description: "MERCADONA", Amount: decimal.RequireFromString("-23.45"), BankCategory: "Compras", BankSubcategory: "Supermercado"},
		{ID: uuid.New(), AccountID: accountID, Date: date, Description: "Bizum", Amount: decimal.RequireFromString("10.00")},
	}

	mock.ExpectExec(`INSERT INTO transactions .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\), \(\$9, .*\$16\)`).
		WithArgs(
			txs[0].ID, accountID, &sub, date, "MERCADONA", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			txs[1].ID, accountID, pgxmock.AnyArg(), date, "Bizum", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, repo.InsertTransactions(context.Background(), txs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresImportRepository_InsertTransactions_Empty(t *testing.T) {
	mock, repo := newMockRepo(t)

	require.NoError(t, repo.InsertTransactions(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresImportRepository_InsertTransactions_Error(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO transactions`).
		WillReturnError(errors.New("value too long"))

	err := repo.InsertTransactions(context.Background(), []Transaction{{ID: uuid.New(), Description: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert transactions")
}

func TestPostgresImportRepository_ListMappings(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID := uuid.New()
	sub := uuid.New()

	mock.ExpectQuery(`FROM import_category_mappings`).
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"bank_category", "bank_subcategory", "subcategory_id"}).
			AddRow("Compras", "Supermercado", &sub).
			AddRow("Varios", "", (*uuid.UUID)(nil)))

	mappings, err := repo.ListMappings(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, sub, *mappings[0].SubcategoryID)
	assert.Nil(t, mappings[1].SubcategoryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresImportRepository_UpsertMappings(t *testing.T) {
	mock, repo := newMockRepo(t)
	accountID := uuid.New()
	first, second := uuid.New(), uuid.New()

	mock.ExpectExec(`INSERT INTO import_category_mappings .* ON CONFLICT \(account_id, bank_category, bank_subcategory\) DO UPDATE`).
		WithArgs(
			accountID, "Compras", "Supermercado", &second,
			accountID, "Ocio", "", (*uuid.UUID)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := repo.UpsertMappings(context.Background(), accountID, []mapping.Mapping{
		{BankCategory: "Compras", BankSubcategory: "Supermercado", SubcategoryID: &first},
		{BankCategory: "Ocio", BankSubcategory: ""},
		{BankCategory: "Compras", BankSubcategory: "Supermercado", SubcategoryID: &second},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($9, $10)", placeholders(8, 2))
}
