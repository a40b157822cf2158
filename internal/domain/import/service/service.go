// Package service provides the import orchestration logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
	"github.com/FACorreiaa/household-finance/internal/domain/import/normalizer"
	"github.com/FACorreiaa/household-finance/internal/domain/import/parser"
	"github.com/FACorreiaa/household-finance/internal/domain/import/repository"
	"github.com/FACorreiaa/household-finance/internal/domain/import/sniffer"
	"github.com/FACorreiaa/household-finance/pkg/metrics"
)

// ErrForbidden is returned when the user is not a member of the account.
var ErrForbidden = errors.New("account access denied")

const importBatchSize = 100

// ParseRequest is an uploaded statement to parse.
type ParseRequest struct {
	Filename  string
	Data      []byte
	SheetName string
	AccountID *uuid.UUID
}

// ParseResult is a parsed statement awaiting review. Proposals is nil unless
// the request named an account.
type ParseResult struct {
	Detection *sniffer.Detection
	*parser.Result
	Proposals []mapping.Proposal
}

// ConfirmRequest commits reviewed transactions into an account.
type ConfirmRequest struct {
	AccountID        uuid.UUID                  `json:"account_id"`
	Transactions     []parser.ParsedTransaction `json:"transactions"`
	CategoryMappings []mapping.Mapping          `json:"category_mappings"`
}

// CommitResult is the outcome of a confirm. Total is always Inserted+Skipped.
type CommitResult struct {
	Total    int      `json:"total"`
	Inserted int      `json:"inserted"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// ImportService orchestrates statement parsing and commit.
type ImportService struct {
	repo    repository.ImportRepository
	engine  *mapping.Engine
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	newID   func() uuid.UUID
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, engine *mapping.Engine, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:   repo,
		engine: engine,
		tracer: otel.Tracer("github.com/FACorreiaa/household-finance/internal/domain/import/service"),
		logger: logger,
		newID:  uuid.New,
	}
}

// WithMetrics records import counters on m.
func (s *ImportService) WithMetrics(m *metrics.Metrics) *ImportService {
	s.metrics = m
	return s
}

// WithTracer replaces the global tracer.
func (s *ImportService) WithTracer(t trace.Tracer) *ImportService {
	s.tracer = t
	return s
}

// Parse loads, detects and parses an uploaded statement. Unreadable files and
// detection failures are returned as *sniffer.DetectionError. When
// req.AccountID is set the user must have access to it, and mapping
// proposals are attached.
func (s *ImportService) Parse(ctx context.Context, userID uuid.UUID, req ParseRequest) (*ParseResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.Parse", trace.WithAttributes(
		attribute.String("file.name", req.Filename),
		attribute.Int("file.size", len(req.Data)),
	))
	defer span.End()

	if req.AccountID != nil {
		if err := s.authorize(ctx, *req.AccountID, userID); err != nil {
			recordError(span, err)
			return nil, err
		}
	}

	wb, err := parser.LoadWorkbook(req.Filename, req.Data)
	if err != nil {
		recordError(span, err)
		return nil, &sniffer.DetectionError{Err: err}
	}

	det, err := sniffer.Detect(wb, req.SheetName)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	sheet, _ := wb.Sheet(det.SheetName)
	result := parser.ParseRows(sheet.Rows, det.HeaderRowIndex, det.Format, det.Columns)
	s.metrics.ObserveParse(len(result.Transactions), len(result.Errors))

	span.SetAttributes(
		attribute.String("import.format", string(det.Format)),
		attribute.String("import.sheet", det.SheetName),
		attribute.Int("import.transactions", len(result.Transactions)),
		attribute.Int("import.errors", len(result.Errors)),
	)
	s.logger.Info("statement parsed",
		slog.String("user_id", userID.String()),
		slog.String("format", string(det.Format)),
		slog.String("sheet", det.SheetName),
		slog.Int("transactions", len(result.Transactions)),
		slog.Int("errors", len(result.Errors)),
	)

	out := &ParseResult{Detection: det, Result: result}
	if req.AccountID != nil {
		out.Proposals, err = s.propose(ctx, *req.AccountID, observations(result.Categories))
		if err != nil {
			recordError(span, err)
			return nil, err
		}
	}
	return out, nil
}

// Propose suggests a subcategory for each bank category pair.
func (s *ImportService) Propose(ctx context.Context, userID, accountID uuid.UUID, obs []mapping.Observation) ([]mapping.Proposal, error) {
	if err := s.authorize(ctx, accountID, userID); err != nil {
		return nil, err
	}
	return s.propose(ctx, accountID, obs)
}

func (s *ImportService) propose(ctx context.Context, accountID uuid.UUID, obs []mapping.Observation) ([]mapping.Proposal, error) {
	saved, err := s.repo.ListMappings(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load saved mappings: %w", err)
	}
	tree, err := s.repo.CategoryTree(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	proposals := s.engine.Propose(obs, saved, tree)
	for _, p := range proposals {
		s.metrics.ObserveProposal(string(p.Source))
	}
	return proposals, nil
}

// Confirm commits reviewed transactions. Rows already stored in the account,
// or repeated within the request, are skipped. Inserts run in batches of
// importBatchSize; a failed batch is reported and its rows counted as
// skipped. Confirmed mappings are saved afterwards on a best-effort basis.
func (s *ImportService) Confirm(ctx context.Context, userID uuid.UUID, req ConfirmRequest) (*CommitResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.Confirm", trace.WithAttributes(
		attribute.String("account.id", req.AccountID.String()),
		attribute.Int("import.transactions", len(req.Transactions)),
	))
	defer span.End()

	if err := s.authorize(ctx, req.AccountID, userID); err != nil {
		recordError(span, err)
		return nil, err
	}

	lookup := make(map[string]*uuid.UUID, len(req.CategoryMappings))
	for _, m := range req.CategoryMappings {
		lookup[mappingKey(m.BankCategory, m.BankSubcategory)] = m.SubcategoryID
	}

	existing, err := s.repo.ListExistingTransactions(ctx, req.AccountID)
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to load existing transactions: %w", err)
	}
	seen := make(map[string]struct{}, len(existing)+len(req.Transactions))
	for _, tx := range existing {
		seen[normalizer.DedupKey(tx.Date, tx.Description, tx.Amount)] = struct{}{}
	}

	result := &CommitResult{Total: len(req.Transactions), Errors: []string{}}
	var duplicates, invalid int

	for start := 0; start < len(req.Transactions); start += importBatchSize {
		end := min(start+importBatchSize, len(req.Transactions))

		batch := make([]repository.Transaction, 0, end-start)
		pending := make(map[string]struct{}, end-start)
		for i := start; i < end; i++ {
			ptx := req.Transactions[i]

			date, ok := normalizer.ISODate(ptx.Date)
			if !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: invalid date %q", i+1, ptx.Date))
				invalid++
				continue
			}

			key := normalizer.DedupKey(date, normalizer.Description(ptx.Description), ptx.Amount)
			_, dup := seen[key]
			if _, inBatch := pending[key]; dup || inBatch {
				duplicates++
				continue
			}

			tx, err := s.buildTransaction(req.AccountID, date, ptx, lookup)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: %v", i+1, err))
				invalid++
				continue
			}
			pending[key] = struct{}{}
			batch = append(batch, tx)
		}

		if len(batch) == 0 {
			continue
		}
		if err := s.repo.InsertTransactions(ctx, batch); err != nil {
			batchNum := start/importBatchSize + 1
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d: %v", batchNum, err))
			result.Skipped += len(batch)
			s.metrics.ObserveBatchFailure()
			s.metrics.ObserveSkipped(metrics.SkipBatchFailed, len(batch))
			s.logger.Error("failed to insert transaction batch",
				slog.String("account_id", req.AccountID.String()),
				slog.Int("batch", batchNum),
				slog.Int("rows", len(batch)),
				slog.Any("error", err),
			)
			continue
		}
		// Keys of a failed batch stay unmarked so a later copy can still land.
		for key := range pending {
			seen[key] = struct{}{}
		}
		result.Inserted += len(batch)
	}

	result.Skipped += duplicates + invalid
	s.metrics.ObserveInserted(result.Inserted)
	s.metrics.ObserveSkipped(metrics.SkipDuplicate, duplicates)
	s.metrics.ObserveSkipped(metrics.SkipInvalidDate, invalid)

	s.saveMappings(ctx, req.AccountID, req.CategoryMappings)

	span.SetAttributes(
		attribute.Int("import.inserted", result.Inserted),
		attribute.Int("import.skipped", result.Skipped),
	)
	s.logger.Info("import committed",
		slog.String("user_id", userID.String()),
		slog.String("account_id", req.AccountID.String()),
		slog.Int("total", result.Total),
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *ImportService) buildTransaction(accountID uuid.UUID, isoDate string, ptx parser.ParsedTransaction, lookup map[string]*uuid.UUID) (repository.Transaction, error) {
	date, err := time.Parse(time.DateOnly, isoDate)
	if err != nil {
		return repository.Transaction{}, err
	}
	amount, err := decimal.NewFromString(normalizer.AmountKey(ptx.Amount))
	if err != nil {
		return repository.Transaction{}, fmt.Errorf("invalid amount %v", ptx.Amount)
	}

	return repository.Transaction{
		ID:              s.newID(),
		AccountID:       accountID,
		SubcategoryID:   lookup[mappingKey(ptx.BankCategory, ptx.BankSubcategory)],
		Date:            date,
		Description:     normalizer.Description(ptx.Description),
		Amount:          amount,
		BankCategory:    normalizer.Sanitize(ptx.BankCategory),
		BankSubcategory: normalizer.Sanitize(ptx.BankSubcategory),
	}, nil
}

func (s *ImportService) saveMappings(ctx context.Context, accountID uuid.UUID, confirmed []mapping.Mapping) {
	toSave := make([]mapping.Mapping, 0, len(confirmed))
	for _, m := range confirmed {
		if m.SubcategoryID != nil {
			toSave = append(toSave, m)
		}
	}
	if len(toSave) == 0 {
		return
	}

	if err := s.repo.UpsertMappings(ctx, accountID, toSave); err != nil {
		s.logger.Warn("failed to save category mappings",
			slog.String("account_id", accountID.String()),
			slog.Int("mappings", len(toSave)),
			slog.Any("error", err),
		)
	}
}

// Mappings lists the saved category mappings of an account.
func (s *ImportService) Mappings(ctx context.Context, userID, accountID uuid.UUID) ([]mapping.Mapping, error) {
	if err := s.authorize(ctx, accountID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListMappings(ctx, accountID)
}

// SearchSubcategories ranks the account's subcategories against query.
func (s *ImportService) SearchSubcategories(ctx context.Context, userID, accountID uuid.UUID, query string, limit int) ([]mapping.Suggestion, error) {
	if err := s.authorize(ctx, accountID, userID); err != nil {
		return nil, err
	}
	tree, err := s.repo.CategoryTree(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	return mapping.SuggestSubcategories(query, tree, limit), nil
}

// KeywordRules returns the rule table the engine matches with.
func (s *ImportService) KeywordRules() *mapping.RuleSet {
	return s.engine.Rules()
}

func (s *ImportService) authorize(ctx context.Context, accountID, userID uuid.UUID) error {
	ok, err := s.repo.HasAccess(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func observations(cats []parser.CategoryObservation) []mapping.Observation {
	obs := make([]mapping.Observation, len(cats))
	for i, c := range cats {
		obs[i] = mapping.Observation{Category: c.Category, Subcategory: c.Subcategory}
	}
	return obs
}

func mappingKey(category, subcategory string) string {
	return category + "\x1f" + subcategory
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
