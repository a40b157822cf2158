package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
	"github.com/FACorreiaa/household-finance/internal/domain/import/parser"
	"github.com/FACorreiaa/household-finance/internal/domain/import/repository/repotest"
	"github.com/FACorreiaa/household-finance/internal/domain/import/sniffer"
	"github.com/FACorreiaa/household-finance/pkg/metrics"
)

type fixture struct {
	repo      *repotest.MemoryRepository
	svc       *ImportService
	userID    uuid.UUID
	accountID uuid.UUID
	subs      map[string]uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      repotest.NewMemoryRepository(),
		userID:    uuid.New(),
		accountID: uuid.New(),
		subs:      make(map[string]uuid.UUID),
	}
	f.repo.AddMember(f.accountID, f.userID)

	var tree []mapping.Category
	for _, cat := range []struct {
		name string
		subs []string
	}{
		{"Supermercado", []string{"Alimentación", "Droguería"}},
		{"Ocio", []string{"Restaurantes"}},
		{"Vivienda", []string{"Hipoteca", "Suministros"}},
	} {
		c := mapping.Category{ID: uuid.New(), Name: cat.name}
		for _, name := range cat.subs {
			id := uuid.New()
			f.subs[cat.name+"/"+name] = id
			c.Subcategories = append(c.Subcategories, mapping.Subcategory{ID: id, Name: name})
		}
		tree = append(tree, c)
	}
	f.repo.SetCategoryTree(f.accountID, tree)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewImportService(f.repo, mapping.NewEngine(mapping.DefaultRules()), logger).WithMetrics(metrics.New())
	return f
}

func generateTransactions(n int) []parser.ParsedTransaction {
	faker := gofakeit.New(42)
	txs := make([]parser.ParsedTransaction, n)
	for i := range txs {
		txs[i] = parser.ParsedTransaction{
			Date:        fmt.Sprintf("2024-%02d-%02d", i%12+1, i%28+1),
			Description: fmt.Sprintf("%s %d", faker.Company(), i),
			Amount:      -float64(i+1) - 0.25,
		}
	}
	return txs
}

func TestConfirm_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := ConfirmRequest{AccountID: f.accountID, Transactions: generateTransactions(250)}

	first, err := f.svc.Confirm(ctx, f.userID, req)
	require.NoError(t, err)
	assert.Equal(t, 250, first.Total)
	assert.Equal(t, 250, first.Inserted)
	assert.Equal(t, 0, first.Skipped)
	assert.Empty(t, first.Errors)
	assert.Equal(t, 3, f.repo.InsertCalls)

	second, err := f.svc.Confirm(ctx, f.userID, req)
	require.NoError(t, err)
	assert.Equal(t, 250, second.Total)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 250, second.Skipped)
	assert.Len(t, f.repo.Transactions(f.accountID), 250)
}

func TestConfirm_DedupKeyNormalizesDescriptionAndAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Confirm(ctx, f.userID, ConfirmRequest{
		AccountID: f.accountID,
		Transactions: []parser.ParsedTransaction{
			{Date: "2024-03-01", Description: "Mercadona  #12", Amount: -23.451},
			{Date: "01/03/2024", Description: "mercadona #12", Amount: -23.449999},
			{Date: "2024-03-01", Description: "mercadona #12", Amount: -23.46},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Skipped)

	stored := f.repo.Transactions(f.accountID)
	require.Len(t, stored, 2)
	assert.Equal(t, "-23.45", stored[0].Amount.StringFixed(2))
	assert.Equal(t, "2024-03-01", stored[0].Date.Format("2006-01-02"))
}

func TestConfirm_InvalidDateSkipped(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Confirm(context.Background(), f.userID, ConfirmRequest{
		AccountID: f.accountID,
		Transactions: []parser.ParsedTransaction{
			{Date: "2024-03-01", Description: "Bizum", Amount: 10},
			{Date: "yesterday", Description: "Bizum", Amount: 11},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{`transaction 2: invalid date "yesterday"`}, result.Errors)
}

func TestConfirm_BatchFailureCountsRowsAsSkipped(t *testing.T) {
	f := newFixture(t)
	f.repo.FailInsert = func(call int) error {
		if call == 2 {
			return errors.New("deadlock detected")
		}
		return nil
	}

	result, err := f.svc.Confirm(context.Background(), f.userID, ConfirmRequest{
		AccountID:    f.accountID,
		Transactions: generateTransactions(250),
	})
	require.NoError(t, err)

	assert.Equal(t, 250, result.Total)
	assert.Equal(t, 150, result.Inserted)
	assert.Equal(t, 100, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "batch 2")
	assert.Contains(t, result.Errors[0], "deadlock detected")
	assert.Equal(t, result.Total, result.Inserted+result.Skipped)
}

func TestConfirm_RowRepeatedAfterFailedBatchIsInserted(t *testing.T) {
	f := newFixture(t)
	f.repo.FailInsert = func(call int) error {
		if call == 1 {
			return errors.New("transient")
		}
		return nil
	}

	txs := generateTransactions(100)
	txs = append(txs, txs[0])

	result, err := f.svc.Confirm(context.Background(), f.userID, ConfirmRequest{
		AccountID:    f.accountID,
		Transactions: txs,
	})
	require.NoError(t, err)

	assert.Equal(t, 101, result.Total)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 100, result.Skipped)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "batch 1: transient")

	stored := f.repo.Transactions(f.accountID)
	require.Len(t, stored, 1)
	assert.Equal(t, txs[0].Description, stored[0].Description)
}

func TestConfirm_AppliesAndSavesMappings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.subs["Supermercado/Alimentación"]

	result, err := f.svc.Confirm(ctx, f.userID, ConfirmRequest{
		AccountID: f.accountID,
		Transactions: []parser.ParsedTransaction{
			{Date: "2024-03-01", Description: "MERCADONA", Amount: -20, BankCategory: "Compras", BankSubcategory: "Supermercado"},
			{Date: "2024-03-02", Description: "Cine", Amount: -8, BankCategory: "Ocio", BankSubcategory: "Cine"},
		},
		CategoryMappings: []mapping.Mapping{
			{BankCategory: "Compras", BankSubcategory: "Supermercado", SubcategoryID: &target},
			{BankCategory: "Ocio", BankSubcategory: "Cine"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	stored := f.repo.Transactions(f.accountID)
	require.Len(t, stored, 2)
	require.NotNil(t, stored[0].SubcategoryID)
	assert.Equal(t, target, *stored[0].SubcategoryID)
	assert.Nil(t, stored[1].SubcategoryID)

	saved, err := f.svc.Mappings(ctx, f.userID, f.accountID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Compras", saved[0].BankCategory)
}

func TestConfirm_MappingSaveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.repo.UpsertErr = errors.New("constraint violation")
	target := f.subs["Ocio/Restaurantes"]

	result, err := f.svc.Confirm(context.Background(), f.userID, ConfirmRequest{
		AccountID:        f.accountID,
		Transactions:     []parser.ParsedTransaction{{Date: "2024-03-01", Description: "Bar", Amount: -3}},
		CategoryMappings: []mapping.Mapping{{BankCategory: "Ocio", SubcategoryID: &target}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Empty(t, result.Errors)
}

func TestConfirm_Forbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Confirm(context.Background(), uuid.New(), ConfirmRequest{
		AccountID:    f.accountID,
		Transactions: generateTransactions(1),
	})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, f.repo.InsertCalls)
}

func TestConfirm_Empty(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Confirm(context.Background(), f.userID, ConfirmRequest{AccountID: f.accountID})
	require.NoError(t, err)
	assert.Equal(t, &CommitResult{Errors: []string{}}, result)
}

func checkingWorkbook(t *testing.T) []byte {
	t.Helper()
	x := excelize.NewFile()
	defer x.Close()

	sheet := "Movimientos"
	require.NoError(t, x.SetSheetName("Sheet1", sheet))
	rows := [][]any{
		{"Extracto de cuenta"},
		{},
		{"F. VALOR", "CATEGORÍA", "SUBCATEGORÍA", "DESCRIPCIÓN", "IMPORTE"},
		{45352, "Compras", "Supermercado", "MERCADONA", -23.45},
		{45353, "Restauración", "Bar", "CAFETERIA SOL", -4.5},
		{45354, "Nómina", "", "EMPRESA SL", 1500},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, x.SetSheetRow(sheet, cell, &r))
	}

	var buf bytes.Buffer
	require.NoError(t, x.Write(&buf))
	return buf.Bytes()
}

func TestParse_WithProposals(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Parse(context.Background(), f.userID, ParseRequest{
		Filename:  "extracto.xlsx",
		Data:      checkingWorkbook(t),
		AccountID: &f.accountID,
	})
	require.NoError(t, err)

	assert.Equal(t, sniffer.FormatCheckingAccount, result.Detection.Format)
	require.Len(t, result.Transactions, 3)
	assert.Equal(t, "2024-03-01", result.Transactions[0].Date)
	assert.Equal(t, -23.45, result.Transactions[0].Amount)
	assert.Equal(t, 1500.0, result.Transactions[2].Amount)

	require.Len(t, result.Proposals, 3)
	assert.Equal(t, mapping.SourceKeyword, result.Proposals[0].Source)
	assert.Equal(t, f.subs["Supermercado/Alimentación"], *result.Proposals[0].SubcategoryID)
	assert.Equal(t, f.subs["Ocio/Restaurantes"], *result.Proposals[1].SubcategoryID)
	assert.Equal(t, mapping.SourceNone, result.Proposals[2].Source)
}

func TestParse_WithoutAccount(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Parse(context.Background(), f.userID, ParseRequest{
		Filename: "extracto.xlsx",
		Data:     checkingWorkbook(t),
	})
	require.NoError(t, err)
	assert.Nil(t, result.Proposals)
	assert.Len(t, result.Categories, 3)
}

func TestParse_DetectionError(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Parse(context.Background(), f.userID, ParseRequest{
		Filename:  "extracto.xlsx",
		Data:      checkingWorkbook(t),
		SheetName: "Marzo",
	})

	var detErr *sniffer.DetectionError
	require.ErrorAs(t, err, &detErr)
	assert.ErrorIs(t, err, sniffer.ErrSheetNotFound)
	assert.Equal(t, []string{"Movimientos"}, detErr.AvailableSheets)
}

func TestParse_Forbidden(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()

	_, err := f.svc.Parse(context.Background(), f.userID, ParseRequest{
		Filename:  "extracto.xlsx",
		Data:      checkingWorkbook(t),
		AccountID: &other,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSearchSubcategories(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.SearchSubcategories(context.Background(), f.userID, f.accountID, "sumin", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, f.subs["Vivienda/Suministros"], got[0].SubcategoryID)
}

func TestKeywordRules(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, mapping.DefaultRules(), f.svc.KeywordRules())
}
