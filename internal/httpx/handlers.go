package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shelfwise/services/ledger/internal/db"
	"github.com/shelfwise/services/ledger/internal/ledger"
	"github.com/shelfwise/services/ledger/internal/metrics"
	"github.com/shelfwise/services/ledger/internal/repo"
	"go.uber.org/zap"
)

// EventPublisher is the broker surface the handlers need. A nil publisher
// disables event publishing, it never fails a request.
type EventPublisher interface {
	PublishStockReserved(ctx context.Context, userID, itemID uint, quantity int) error
	PublishStockAssigned(ctx context.Context, userID, itemID uint, quantity int) error
	PublishStockAdjusted(ctx context.Context, userID, itemID uint, quantity int) error
	PublishStockReleased(ctx context.Context, userID, itemID uint, quantity int) error
	PublishItemDeleted(ctx context.Context, itemID uint) error
	IsHealthy() bool
}

// Handler wires the HTTP surface to the ledger and the data repositories
type Handler struct {
	Ledger   *ledger.Ledger
	Catalog  *repo.CatalogRepository
	Accounts *repo.AccountsRepository
	Events   EventPublisher
	Log      *zap.Logger
}

// Register mounts all routes on the router
func (h *Handler) Register(r *chi.Mux) {
	r.Post("/login", h.login)

	r.Get("/collections", h.listCollections)
	r.Post("/collections", h.createCollection)
	r.Put("/collections/{id}", h.updateCollection)
	r.Delete("/collections/{id}", h.deleteCollection)

	r.Get("/items", h.listItems)
	r.Post("/items", h.createItem)
	r.Get("/items/{id}", h.getItem)
	r.Put("/items/{id}", h.updateItem)
	r.Delete("/items/{id}", h.deleteItem)

	r.Get("/users", h.listUsers)
	r.Post("/users", h.createUser)
	r.Put("/users/{id}", h.updateUser)
	r.Delete("/users/{id}", h.deleteUser)
	r.Get("/users/{id}/reservations", h.listUserReservations)

	r.Post("/reservations", h.reserve)
	r.Delete("/reservations/{id}", h.release)

	r.Post("/admin/assignments", h.assign)
	r.Put("/admin/reservations/{id}", h.setReservationQuantity)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeLedgerError maps the ledger's typed failures onto status codes.
// Conflicts carry a retry hint: the whole operation is safe to rerun with
// fresh reads.
func (h *Handler) writeLedgerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrItemNotFound),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrReservationNotFound):
		metrics.LedgerOperations.WithLabelValues(op, "not_found").Inc()
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidQuantity):
		metrics.LedgerOperations.WithLabelValues(op, "invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrOutOfStock):
		metrics.LedgerOperations.WithLabelValues(op, "out_of_stock").Inc()
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		metrics.LedgerOperations.WithLabelValues(op, "conflict").Inc()
		metrics.StockConflicts.Inc()
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "retryable": true})
	default:
		metrics.LedgerOperations.WithLabelValues(op, "error").Inc()
		h.Log.Error("Ledger operation failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// publishAsync fires an event without blocking the request, mirroring the
// publish-after-commit pattern: a broker failure is logged, never surfaced.
func (h *Handler) publishAsync(publish func(ctx context.Context) error) {
	if h.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := publish(ctx); err != nil {
			h.Log.Error("Failed to publish event", zap.Error(err))
		}
	}()
}

type reserveRequest struct {
	UserID   uint `json:"user_id"`
	ItemID   uint `json:"item_id"`
	Quantity int  `json:"quantity"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == 0 || req.ItemID == 0 {
		writeError(w, http.StatusBadRequest, "user_id and item_id are required")
		return
	}

	res, err := h.Ledger.Reserve(r.Context(), req.UserID, req.ItemID, req.Quantity)
	if err != nil {
		h.writeLedgerError(w, "reserve", err)
		return
	}
	metrics.LedgerOperations.WithLabelValues("reserve", "ok").Inc()

	h.publishAsync(func(ctx context.Context) error {
		return h.Events.PublishStockReserved(ctx, req.UserID, req.ItemID, res.Quantity)
	})
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == 0 || req.ItemID == 0 {
		writeError(w, http.StatusBadRequest, "user_id and item_id are required")
		return
	}

	res, err := h.Ledger.AssignToUser(r.Context(), req.UserID, req.ItemID, req.Quantity)
	if err != nil {
		h.writeLedgerError(w, "assign", err)
		return
	}
	metrics.LedgerOperations.WithLabelValues("assign", "ok").Inc()

	h.publishAsync(func(ctx context.Context) error {
		return h.Events.PublishStockAssigned(ctx, req.UserID, req.ItemID, res.Quantity)
	})
	writeJSON(w, http.StatusOK, res)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) setReservationQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.Ledger.SetReservationQuantity(r.Context(), id, req.Quantity)
	if err != nil {
		h.writeLedgerError(w, "set_quantity", err)
		return
	}
	metrics.LedgerOperations.WithLabelValues("set_quantity", "ok").Inc()

	h.publishAsync(func(ctx context.Context) error {
		return h.Events.PublishStockAdjusted(ctx, res.UserID, res.ItemID, res.Quantity)
	})
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	res, err := h.Ledger.Release(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "release", err)
		return
	}
	metrics.LedgerOperations.WithLabelValues("release", "ok").Inc()

	h.publishAsync(func(ctx context.Context) error {
		return h.Events.PublishStockReleased(ctx, res.UserID, res.ItemID, res.Quantity)
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	reservations, err := h.Ledger.ReservationsForUser(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, reservations)
}

type collectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.Catalog.ListCollections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, collections)
}

func (h *Handler) createCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	collection := &db.Collection{Name: req.Name, Description: req.Description}
	if err := h.Catalog.CreateCollection(r.Context(), collection); err != nil {
		if errors.Is(err, repo.ErrCollectionExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, collection)
}

func (h *Handler) updateCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}

	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	collection := &db.Collection{CollectionID: id, Name: req.Name, Description: req.Description}
	if err := h.Catalog.UpdateCollection(r.Context(), collection); err != nil {
		switch {
		case errors.Is(err, repo.ErrCollectionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, repo.ErrCollectionExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

func (h *Handler) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}

	if err := h.Catalog.DeleteCollection(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, repo.ErrCollectionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, repo.ErrCollectionNotEmpty):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type itemRequest struct {
	CollectionID  uint   `json:"collection_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Price         int64  `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	var collectionID uint
	if raw := r.URL.Query().Get("collection_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid collection_id")
			return
		}
		collectionID = uint(id)
	}
	inStockOnly := r.URL.Query().Get("in_stock") == "true"

	items, err := h.Catalog.ListItems(r.Context(), collectionID, inStockOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := h.Catalog.GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.CollectionID == 0 {
		writeError(w, http.StatusBadRequest, "name and collection_id are required")
		return
	}
	if req.Price < 0 || req.StockQuantity < 0 {
		writeError(w, http.StatusBadRequest, "price and stock_quantity must not be negative")
		return
	}

	item := &db.Item{
		CollectionID:  req.CollectionID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	}
	if err := h.Catalog.CreateItem(r.Context(), item); err != nil {
		if errors.Is(err, repo.ErrCollectionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.CollectionID == 0 {
		writeError(w, http.StatusBadRequest, "name and collection_id are required")
		return
	}
	if req.Price < 0 || req.StockQuantity < 0 {
		writeError(w, http.StatusBadRequest, "price and stock_quantity must not be negative")
		return
	}

	item := &db.Item{
		ItemID:        id,
		CollectionID:  req.CollectionID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	}
	if err := h.Catalog.UpdateItem(r.Context(), item); err != nil {
		if errors.Is(err, repo.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// deleteItem routes through the ledger: removing an item also removes every
// reservation referencing it.
func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := h.Ledger.DeleteItem(r.Context(), id); err != nil {
		h.writeLedgerError(w, "delete_item", err)
		return
	}
	metrics.LedgerOperations.WithLabelValues("delete_item", "ok").Inc()

	h.publishAsync(func(ctx context.Context) error {
		return h.Events.PublishItemDeleted(ctx, id)
	})
	w.WriteHeader(http.StatusNoContent)
}

type userRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user := &db.User{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Email:     req.Email,
		IsAdmin:   req.IsAdmin,
	}
	if err := h.Accounts.CreateUser(r.Context(), user, req.Password); err != nil {
		if errors.Is(err, repo.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	user := &db.User{
		UserID:    id,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Email:     req.Email,
		IsAdmin:   req.IsAdmin,
	}
	if err := h.Accounts.UpdateUser(r.Context(), user, req.Password); err != nil {
		switch {
		case errors.Is(err, repo.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, repo.ErrUsernameTaken):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// deleteUser purges the account through the ledger so the reservations are
// released and the user row removed in a single transaction, then announces
// each credited reservation.
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	released, err := h.Ledger.PurgeUser(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "purge_user", err)
		return
	}
	metrics.LedgerOperations.WithLabelValues("purge_user", "ok").Inc()

	for _, res := range released {
		h.publishAsync(func(ctx context.Context) error {
			return h.Events.PublishStockReleased(ctx, res.UserID, res.ItemID, res.Quantity)
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.Accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
