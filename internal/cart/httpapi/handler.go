// Package httpapi exposes the cart store to presentation code over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwikikusuma/marketplace-cart/internal/cart/app"
	"github.com/dwikikusuma/marketplace-cart/internal/cart/domain"
	"github.com/dwikikusuma/marketplace-cart/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	maxBodyBytes = 1 << 20
	pingTimeout  = 2 * time.Second
)

// CartStore is the slice of *app.Store the handlers need.
type CartStore interface {
	Snapshot() (domain.Cart, error)
	AddToCart(ctx context.Context, p domain.Product) (domain.Cart, error)
	Increment(ctx context.Context, id string) (domain.Cart, error)
	Decrement(ctx context.Context, id string) (domain.Cart, error)
	Loaded() bool
}

// Pinger reports whether the storage behind the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store   CartStore
	storage Pinger
	log     *slog.Logger
}

// NewHandler serves store over HTTP. storage may be nil, in which case
// readiness only depends on the cart being loaded.
func NewHandler(store CartStore, storage Pinger, log *slog.Logger) *Handler {
	return &Handler{store: store, storage: storage, log: logger.Component(log, "httpapi")}
}

type cartResponse struct {
	Items         []domain.CartItem `json:"items"`
	TotalQuantity int               `json:"total_quantity"`
	Subtotal      json.Number       `json:"subtotal"`
	Loaded        bool              `json:"loaded"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", h.ready)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Post("/items", h.addItem)
		r.Post("/items/{id}/increment", h.increment)
		r.Post("/items/{id}/decrement", h.decrement)
	})
	return r
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.store == nil || !h.store.Loaded() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			h.log.Warn("storage not reachable", slog.Any("err", err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.snapshot()
	h.respond(w, r, cart, err)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var p domain.Product
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed product: "+err.Error())
		return
	}
	cart, err := h.call(func(s CartStore) (domain.Cart, error) { return s.AddToCart(r.Context(), p) })
	h.respond(w, r, cart, err)
}

func (h *Handler) increment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cart, err := h.call(func(s CartStore) (domain.Cart, error) { return s.Increment(r.Context(), id) })
	h.respond(w, r, cart, err)
}

func (h *Handler) decrement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cart, err := h.call(func(s CartStore) (domain.Cart, error) { return s.Decrement(r.Context(), id) })
	h.respond(w, r, cart, err)
}

func (h *Handler) snapshot() (domain.Cart, error) {
	return h.call(func(s CartStore) (domain.Cart, error) { return s.Snapshot() })
}

func (h *Handler) call(fn func(CartStore) (domain.Cart, error)) (domain.Cart, error) {
	if h.store == nil {
		return nil, app.ErrNoStore
	}
	return fn(h.store)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, cart domain.Cart, err error) {
	if err != nil {
		status, code, msg := httpStatusFromError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("cart request failed",
				slog.Any("err", err),
				slog.String("path", r.URL.Path),
				slog.String("request_id", w.Header().Get(requestIDHeader)))
		}
		writeError(w, status, code, msg)
		return
	}
	if cart == nil {
		cart = domain.Cart{}
	}
	writeJSON(w, http.StatusOK, cartResponse{
		Items:         cart,
		TotalQuantity: cart.TotalQuantity(),
		Subtotal:      json.Number(cart.Subtotal().String()),
		Loaded:        h.store.Loaded(),
	})
}

func httpStatusFromError(err error) (int, string, string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.Is(err, app.ErrNoStore):
		return http.StatusInternalServerError, "NO_STORE", err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

const requestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", w.Header().Get(requestIDHeader)))
	})
}
