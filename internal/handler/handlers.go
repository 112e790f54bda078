// Package handler provides HTTP request handlers for the catalog API.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apierrors "github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Catalog is the set of logical operations the handlers expose
type Catalog interface {
	CheckDuplicate(ctx context.Context, infoID int64) (bool, error)
	Insert(ctx context.Context, rec *model.Record) (*service.WriteResult, error)
	Update(ctx context.Context, infoID int64, old, next *model.Record) (*service.WriteResult, error)
	Delete(ctx context.Context, infoID int64) (*service.WriteResult, error)
	Search(ctx context.Context, infoID int64) (*service.ReadResult, error)
	FetchPage(ctx context.Context, offset, limit int) ([]*model.Record, error)
	RecoverPending(ctx context.Context) (*service.DrainReport, error)
	PendingEntries(ctx context.Context) ([]*model.LogEntry, error)
}

// WriteResponse is the body of a successful write
type WriteResponse struct {
	// Status is "applied" when every node took the write and "deferred" when
	// some of it waits in the recovery log
	Status string `json:"status"`
	*service.WriteResult
}

// UpdateRequest is the body of PUT /v1/records/{id}. Old is the record as
// the caller last saw it; when absent it is read from the nodes.
type UpdateRequest struct {
	Old *model.Record `json:"old,omitempty"`
	New *model.Record `json:"new"`
}

// PageResponse is the body of GET /v1/records
type PageResponse struct {
	Records []*model.Record `json:"records"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
	Count   int             `json:"count"`
}

// ExistsResponse is the body of GET /v1/records/{id}/exists
type ExistsResponse struct {
	InfoID int64 `json:"info_id"`
	Exists bool  `json:"exists"`
}

// PendingResponse is the body of GET /v1/recovery/pending
type PendingResponse struct {
	Count   int               `json:"count"`
	Entries []*model.LogEntry `json:"entries"`
}

// Handlers contains all HTTP handlers and their dependencies
type Handlers struct {
	catalog        Catalog
	errorHandler   *apierrors.Handler
	drainOnRequest bool
	logger         *zap.Logger
}

// NewHandlers creates a new Handlers instance. With drainOnRequest set, the
// record handlers run a recovery pass before doing their own work.
func NewHandlers(catalog Catalog, errorHandler *apierrors.Handler, drainOnRequest bool, logger *zap.Logger) *Handlers {
	return &Handlers{
		catalog:        catalog,
		errorHandler:   errorHandler,
		drainOnRequest: drainOnRequest,
		logger:         logger,
	}
}

// InsertRecord handles POST /v1/records
func (h *Handlers) InsertRecord(w http.ResponseWriter, r *http.Request) {
	var rec model.Record
	if err := decodeBody(w, r, &rec); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID(r))
		return
	}

	h.recoverPending(r)

	result, err := h.catalog.Insert(r.Context(), &rec)
	if err != nil {
		h.writeFailure(w, r, err, result)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, newWriteResponse(result))
}

// UpdateRecord handles PUT /v1/records/{id}
func (h *Handlers) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	infoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID(r))
		return
	}
	if req.New == nil {
		h.errorHandler.WriteValidationError(w, "new record is required", requestID(r))
		return
	}
	if req.New.InfoID == 0 {
		req.New.InfoID = infoID
	}

	h.recoverPending(r)

	result, err := h.catalog.Update(r.Context(), infoID, req.Old, req.New)
	if err != nil {
		h.writeFailure(w, r, err, result)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, newWriteResponse(result))
}

// DeleteRecord handles DELETE /v1/records/{id}
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	infoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	h.recoverPending(r)

	result, err := h.catalog.Delete(r.Context(), infoID)
	if err != nil {
		h.writeFailure(w, r, err, result)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, newWriteResponse(result))
}

// GetRecord handles GET /v1/records/{id}
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	infoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	h.recoverPending(r)

	result, err := h.catalog.Search(r.Context(), infoID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, result)
}

// ListRecords handles GET /v1/records?offset=&limit=
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID(r))
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID(r))
		return
	}

	h.recoverPending(r)

	records, err := h.catalog.FetchPage(r.Context(), offset, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if records == nil {
		records = []*model.Record{}
	}

	h.writeJSONResponse(w, http.StatusOK, PageResponse{
		Records: records,
		Offset:  offset,
		Limit:   service.PageLimit(limit),
		Count:   len(records),
	})
}

// RecordExists handles GET /v1/records/{id}/exists
func (h *Handlers) RecordExists(w http.ResponseWriter, r *http.Request) {
	infoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	exists, err := h.catalog.CheckDuplicate(r.Context(), infoID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, ExistsResponse{InfoID: infoID, Exists: exists})
}

// DrainRecovery handles POST /v1/recovery/drain
func (h *Handlers) DrainRecovery(w http.ResponseWriter, r *http.Request) {
	report, err := h.catalog.RecoverPending(r.Context())
	if err != nil {
		h.writeFailure(w, r, err, report)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, report)
}

// PendingRecovery handles GET /v1/recovery/pending
func (h *Handlers) PendingRecovery(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.PendingEntries(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*model.LogEntry{}
	}
	h.writeJSONResponse(w, http.StatusOK, PendingResponse{Count: len(entries), Entries: entries})
}

// recoverPending runs the per request recovery pass. Its failure never fails
// the request: the entries stay in the log for the next pass.
func (h *Handlers) recoverPending(r *http.Request) {
	if !h.drainOnRequest {
		return
	}

	report, err := h.catalog.RecoverPending(r.Context())
	if err != nil {
		h.logger.Warn("Recovery pass failed",
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		return
	}
	if report != nil && report.Replayed > 0 {
		h.logger.Info("Recovery pass replayed pending writes",
			zap.String("request_id", requestID(r)),
			zap.Int("replayed", report.Replayed),
			zap.Int("retained", report.Retained))
	}
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	infoID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.errorHandler.WriteValidationError(w, fmt.Sprintf("info_id must be an integer, got %q", raw), requestID(r))
		return 0, false
	}
	return infoID, true
}

// writeFailure writes err, attaching a partial result when there is one
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, err error, result interface{}) {
	switch v := result.(type) {
	case *service.WriteResult:
		if v != nil {
			h.errorHandler.HandleErrorWithResult(w, r, err, v)
			return
		}
	case *service.DrainReport:
		if v != nil {
			h.errorHandler.HandleErrorWithResult(w, r, err, v)
			return
		}
	}
	h.errorHandler.HandleError(w, r, err)
}

// writeJSONResponse writes a JSON response to the HTTP response writer
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func newWriteResponse(result *service.WriteResult) WriteResponse {
	status := "applied"
	if len(result.Warnings) > 0 {
		status = "deferred"
	}
	return WriteResponse{Status: status, WriteResult: result}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}
