package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"inventoryd/internal/inventory"
	"inventoryd/internal/service"
)

// Handler exposes the inventory service over HTTP. It owns the mapping
// from the error taxonomy to status codes and nothing else.
type Handler struct {
	svc    *service.InventoryService
	logger *zap.Logger
}

func NewHandler(svc *service.InventoryService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers all API routes on the given mux. The /batch
// literals take precedence over the {id} wildcards.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/items", h.createItem)
	mux.HandleFunc("POST /api/items/batch", h.batchCreateItems)
	mux.HandleFunc("POST /api/items/batch-read", h.batchReadItems)
	mux.HandleFunc("GET /api/items", h.listItems)
	mux.HandleFunc("GET /api/items/{id}", h.getItem)
	mux.HandleFunc("PUT /api/items/batch", h.batchUpdateItems)
	mux.HandleFunc("PUT /api/items/{id}", h.updateItem)
	mux.HandleFunc("PATCH /api/items/{id}", h.patchItem)
	mux.HandleFunc("DELETE /api/items/batch", h.batchDeleteItems)
	mux.HandleFunc("DELETE /api/items/{id}", h.deleteItem)
	mux.HandleFunc("GET /healthz", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var item inventory.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	created, err := h.svc.Create(r.Context(), item)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", created.VersionToken)
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) batchCreateItems(w http.ResponseWriter, r *http.Request) {
	var items []inventory.Item
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "no items provided")
		return
	}
	created, err := h.svc.BatchCreate(r.Context(), items)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pageSize: "+raw)
			return
		}
		pageSize = n
	}
	page, err := h.svc.List(r.Context(),
		r.URL.Query().Get("category"),
		pageSize,
		r.URL.Query().Get("continuationToken"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []inventory.Item{}
	}
	resp := map[string]any{"items": items}
	if page.NextToken != "" {
		resp["continuation_token"] = page.NextToken
		resp["has_more"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	key := inventory.Key{ID: r.PathValue("id"), Category: r.URL.Query().Get("category")}
	if key.Category == "" {
		writeError(w, http.StatusBadRequest, "category query parameter is required")
		return
	}
	item, err := h.svc.Get(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "item "+key.ID+" in "+key.Category+" not found")
		return
	}
	w.Header().Set("ETag", item.VersionToken)
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) batchReadItems(w http.ResponseWriter, r *http.Request) {
	var keys []inventory.Key
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "no keys provided")
		return
	}
	items, err := h.svc.BatchRead(r.Context(), keys)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var item inventory.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if r.PathValue("id") != item.ID {
		writeError(w, http.StatusBadRequest, "path id does not match body id")
		return
	}
	updated, err := h.svc.Update(r.Context(), item, r.Header.Get("If-Match"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", updated.VersionToken)
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) patchItem(w http.ResponseWriter, r *http.Request) {
	key := inventory.Key{ID: r.PathValue("id"), Category: r.URL.Query().Get("category")}
	if key.Category == "" {
		writeError(w, http.StatusBadRequest, "category query parameter is required")
		return
	}
	var patch inventory.ItemPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch body: "+err.Error())
		return
	}
	updated, err := h.svc.Patch(r.Context(), key, patch, r.Header.Get("If-Match"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", updated.VersionToken)
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) batchUpdateItems(w http.ResponseWriter, r *http.Request) {
	var items []inventory.Item
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "no items provided")
		return
	}
	updated, err := h.svc.BatchUpdate(r.Context(), items)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	key := inventory.Key{ID: r.PathValue("id"), Category: r.URL.Query().Get("category")}
	if key.Category == "" {
		writeError(w, http.StatusBadRequest, "category query parameter is required")
		return
	}
	deleted, err := h.svc.Delete(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "item "+key.ID+" in "+key.Category+" not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) batchDeleteItems(w http.ResponseWriter, r *http.Request) {
	var keys []inventory.Key
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "no keys provided")
		return
	}
	deleted, err := h.svc.BatchDelete(r.Context(), keys)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_count": len(deleted),
		"items":         deleted,
	})
}

// writeServiceError translates the error taxonomy to a status code. No
// store error text reaches the client for unclassified failures; those are
// logged here with context and reported generically.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var batchErr *inventory.BatchError
	if errors.As(err, &batchErr) {
		status := http.StatusInternalServerError
		if clientCaused(batchErr.Err) {
			status = http.StatusBadRequest
		} else {
			h.logger.Error("batch operation failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		writeJSON(w, status, map[string]any{
			"error":        batchErr.Error(),
			"category":     batchErr.Category,
			"failed_index": batchErr.Index,
		})
		return
	}

	var valErr *inventory.ValidationError
	var immutableErr *inventory.ImmutableFieldError
	switch {
	case errors.As(err, &valErr), errors.As(err, &immutableErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, inventory.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, inventory.ErrConcurrencyConflict):
		// Precondition Failed when the caller asked for a conditional
		// write, plain conflict otherwise.
		status := http.StatusConflict
		if r.Header.Get("If-Match") != "" {
			status = http.StatusPreconditionFailed
		}
		writeError(w, status, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.logger.Warn("store deadline exceeded", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store timed out, retry the request")
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func clientCaused(err error) bool {
	var valErr *inventory.ValidationError
	return errors.Is(err, inventory.ErrAlreadyExists) ||
		errors.Is(err, inventory.ErrNotFound) ||
		errors.As(err, &valErr)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
