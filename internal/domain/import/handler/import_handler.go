package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
	"github.com/FACorreiaa/household-finance/internal/domain/import/parser"
	importservice "github.com/FACorreiaa/household-finance/internal/domain/import/service"
	"github.com/FACorreiaa/household-finance/internal/domain/import/sniffer"
	"github.com/FACorreiaa/household-finance/pkg/interceptors"
	"github.com/FACorreiaa/household-finance/pkg/metrics"
	"github.com/FACorreiaa/household-finance/pkg/storage"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// ImportHandler serves the statement import endpoints.
type ImportHandler struct {
	importSvc      *importservice.ImportService
	archive        storage.Archive
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewImportHandler creates a new import handler. archive may be nil.
func NewImportHandler(importSvc *importservice.ImportService, archive storage.Archive, maxUploadBytes int64, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		importSvc:      importSvc,
		archive:        archive,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes mounts the import endpoints on mux behind auth.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux, auth interceptors.Middleware, m *metrics.Metrics) {
	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodPost, "/import/parse", h.Parse},
		{http.MethodPost, "/import/confirm", h.Confirm},
		{http.MethodGet, "/import/mappings", h.ListMappings},
		{http.MethodPost, "/import/mappings/propose", h.ProposeMappings},
		{http.MethodGet, "/import/keyword-rules", h.KeywordRules},
		{http.MethodGet, "/import/subcategories/search", h.SearchSubcategories},
	}
	for _, rt := range routes {
		mux.Handle(rt.method+" "+rt.path, interceptors.Instrument(m, rt.path, auth(rt.handler)))
	}
}

type parseResponse struct {
	Success          bool                         `json:"success"`
	FileType         string                       `json:"file_type,omitempty"`
	SheetName        string                       `json:"sheet_name,omitempty"`
	AvailableSheets  []string                     `json:"available_sheets,omitempty"`
	Transactions     []parser.ParsedTransaction   `json:"transactions"`
	Categories       []parser.CategoryObservation `json:"categories"`
	Errors           []string                     `json:"errors"`
	ProposedMappings []mapping.Proposal           `json:"proposed_mappings,omitempty"`
	FileID           *uuid.UUID                   `json:"file_id,omitempty"`
}

// Parse handles POST /import/parse (multipart: file, sheet_name, account_id).
func (h *ImportHandler) Parse(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeBodyError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeBodyError(w, err)
		return
	}

	req := importservice.ParseRequest{
		Filename:  header.Filename,
		Data:      data,
		SheetName: strings.TrimSpace(r.FormValue("sheet_name")),
	}
	if raw := strings.TrimSpace(r.FormValue("account_id")); raw != "" {
		accountID, err := uuid.Parse(raw)
		if err != nil {
			interceptors.WriteError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		req.AccountID = &accountID
	}

	// Uploads are archived only once the service has authorized the account.
	contentType := header.Header.Get("Content-Type")
	result, err := h.importSvc.Parse(r.Context(), userID, req)
	if err != nil {
		var detErr *sniffer.DetectionError
		if errors.As(err, &detErr) {
			interceptors.WriteJSON(w, http.StatusOK, parseResponse{
				AvailableSheets: detErr.AvailableSheets,
				Transactions:    []parser.ParsedTransaction{},
				Categories:      []parser.CategoryObservation{},
				Errors:          []string{detErr.Error()},
				FileID:          h.archiveUpload(r, userID, header.Filename, contentType, data),
			})
			return
		}
		h.writeServiceError(w, err, "failed to parse statement")
		return
	}
	fileID := h.archiveUpload(r, userID, header.Filename, contentType, data)

	interceptors.WriteJSON(w, http.StatusOK, parseResponse{
		Success:          true,
		FileType:         string(result.Detection.Format),
		SheetName:        result.Detection.SheetName,
		AvailableSheets:  result.Detection.AvailableSheets,
		Transactions:     result.Transactions,
		Categories:       result.Categories,
		Errors:           result.Errors,
		ProposedMappings: result.Proposals,
		FileID:           fileID,
	})
}

func (h *ImportHandler) archiveUpload(r *http.Request, userID uuid.UUID, filename, contentType string, data []byte) *uuid.UUID {
	if h.archive == nil {
		return nil
	}
	info, err := h.archive.Put(r.Context(), userID, filename, contentType, bytes.NewReader(data))
	if err != nil {
		h.logger.Warn("failed to archive upload",
			slog.String("user_id", userID.String()),
			slog.String("file", filename),
			slog.Any("error", err),
		)
		return nil
	}
	return &info.ID
}

// Confirm handles POST /import/confirm.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req importservice.ConfirmRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID == uuid.Nil {
		interceptors.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	result, err := h.importSvc.Confirm(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err, "failed to import transactions")
		return
	}

	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}

type mappingRow struct {
	BankCategory    string `csv:"bank_category"`
	BankSubcategory string `csv:"bank_subcategory"`
	SubcategoryID   string `csv:"subcategory_id"`
}

// ListMappings handles GET /import/mappings?account_id=&format=json|csv.
func (h *ImportHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	mappings, err := h.importSvc.Mappings(r.Context(), userID, accountID)
	if err != nil {
		h.writeServiceError(w, err, "failed to list mappings")
		return
	}

	if r.URL.Query().Get("format") != "csv" {
		interceptors.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": mappings})
		return
	}

	rows := make([]mappingRow, len(mappings))
	for i, m := range mappings {
		rows[i] = mappingRow{BankCategory: m.BankCategory, BankSubcategory: m.BankSubcategory}
		if m.SubcategoryID != nil {
			rows[i].SubcategoryID = m.SubcategoryID.String()
		}
	}
	out, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		h.writeServiceError(w, err, "failed to encode mappings")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="category-mappings.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

type proposeRequest struct {
	AccountID  uuid.UUID             `json:"account_id"`
	Categories []mapping.Observation `json:"categories"`
}

// ProposeMappings handles POST /import/mappings/propose.
func (h *ImportHandler) ProposeMappings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req proposeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID == uuid.Nil {
		interceptors.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	proposals, err := h.importSvc.Propose(r.Context(), userID, req.AccountID, req.Categories)
	if err != nil {
		h.writeServiceError(w, err, "failed to propose mappings")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": proposals})
}

// KeywordRules handles GET /import/keyword-rules.
func (h *ImportHandler) KeywordRules(w http.ResponseWriter, r *http.Request) {
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": h.importSvc.KeywordRules()})
}

// SearchSubcategories handles GET /import/subcategories/search?account_id=&q=&limit=.
func (h *ImportHandler) SearchSubcategories(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			interceptors.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	suggestions, err := h.importSvc.SearchSubcategories(r.Context(), userID, accountID, r.URL.Query().Get("q"), limit)
	if err != nil {
		h.writeServiceError(w, err, "failed to search subcategories")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": suggestions})
}

func (h *ImportHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := interceptors.GetUserIDFromContext(r.Context())
	if !ok {
		interceptors.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		interceptors.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return uuid.Nil, false
	}
	return userID, true
}

func accountIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("account_id")
	if raw == "" {
		interceptors.WriteError(w, http.StatusBadRequest, "account_id is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "invalid account_id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ImportHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeBodyError(w, err)
		return false
	}
	return true
}

func (h *ImportHandler) writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		interceptors.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	interceptors.WriteError(w, http.StatusBadRequest, "invalid request body")
}

func (h *ImportHandler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, importservice.ErrForbidden) {
		interceptors.WriteError(w, http.StatusForbidden, err.Error())
		return
	}
	h.logger.Error(msg, slog.Any("error", err))
	interceptors.WriteError(w, http.StatusInternalServerError, msg)
}
