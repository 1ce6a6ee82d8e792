package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/store"
	"github.com/BaSui01/stateflow/types"
)

// StoreHandler serves the namespaced KV store. Item addressing uses request
// bodies because namespaces are ordered segment lists, which do not embed
// cleanly in URL paths.
type StoreHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewStoreHandler creates a store handler.
func NewStoreHandler(kv store.Store, logger *zap.Logger) *StoreHandler {
	return &StoreHandler{
		store:  kv,
		logger: logger.With(zap.String("component", "store_handler")),
	}
}

// RegisterRoutes registers the store routes on mux.
func (h *StoreHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/store/items", h.HandlePut)
	mux.HandleFunc("POST /api/v1/store/items/get", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/store/items", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/store/items/search", h.HandleSearch)
	mux.HandleFunc("POST /api/v1/store/namespaces", h.HandleListNamespaces)
}

// storeError maps the store's sentinel errors onto the API taxonomy.
func storeError(err error) *types.Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.NewError(types.ErrNotFound, "store item not found").
			WithHTTPStatus(http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidNamespace), errors.Is(err, store.ErrInvalidKey):
		return types.NewError(types.ErrValidation, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	default:
		return types.NewError(types.ErrInternal, "store operation failed").WithCause(err)
	}
}

// HandlePut upserts one item: create-or-overwrite, last write wins.
func (h *StoreHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req StorePutRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.store.Put(r.Context(), req.Namespace, req.Key, req.Value); err != nil {
		WriteError(w, storeError(err), h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleGet returns one item or NotFound.
func (h *StoreHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	var req StoreGetRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	item, err := h.store.Get(r.Context(), req.Namespace, req.Key)
	if err != nil {
		WriteError(w, storeError(err), h.logger)
		return
	}
	WriteSuccess(w, item)
}

// HandleDelete removes one item. Deleting an absent item succeeds.
func (h *StoreHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req StoreGetRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.store.Delete(r.Context(), req.Namespace, req.Key); err != nil {
		WriteError(w, storeError(err), h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleSearch returns items whose namespace starts with the given prefix,
// segment-wise.
func (h *StoreHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req StoreSearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	items, err := h.store.Search(r.Context(), req.Prefix, req.Limit, req.Offset)
	if err != nil {
		WriteError(w, storeError(err), h.logger)
		return
	}
	WriteSuccess(w, items)
}

// HandleListNamespaces enumerates distinct namespace paths under a prefix.
func (h *StoreHandler) HandleListNamespaces(w http.ResponseWriter, r *http.Request) {
	var req NamespacesRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	namespaces, err := h.store.ListNamespaces(r.Context(), req.Prefix, req.Limit, req.Offset)
	if err != nil {
		WriteError(w, storeError(err), h.logger)
		return
	}
	WriteSuccess(w, namespaces)
}
