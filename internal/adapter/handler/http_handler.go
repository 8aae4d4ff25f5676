package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

type HTTPHandler struct {
	checkout    *service.CheckoutService
	carts       *service.CartService
	orders      *service.OrderService
	catalog     *service.CatalogService
	users       *service.UserService
	idempotency port.IdempotencyStore
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewHTTPHandler wires the services behind the REST API. idempotency may be
// nil, in which case Idempotency-Key headers are ignored.
func NewHTTPHandler(
	checkout *service.CheckoutService,
	carts *service.CartService,
	orders *service.OrderService,
	catalog *service.CatalogService,
	users *service.UserService,
	idempotency port.IdempotencyStore,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		checkout:    checkout,
		carts:       carts,
		orders:      orders,
		catalog:     catalog,
		users:       users,
		idempotency: idempotency,
		validate:    validator.New(),
		logger:      logger,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type AddItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CheckoutHTTPRequest struct {
	Address string          `json:"address"`
	Bonus   json.RawMessage `json:"bonus"`
}

type SaveProductRequest struct {
	Name  string          `json:"name" validate:"required,max=255"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" validate:"gte=0"`
}

type OrderSummaryResponse struct {
	OrderID     string `json:"order_id"`
	Total       string `json:"total"`
	BonusUsed   string `json:"bonus_used"`
	BonusEarned string `json:"bonus_earned"`
}

type ProfileResponse struct {
	ID            int64    `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Phone         string   `json:"phone"`
	Bonus         string   `json:"bonus"`
	Role          string   `json:"role"`
	IsStaff       bool     `json:"is_staff"`
	MissingFields []string `json:"missing_fields"`
}

type CheckoutHTTPResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Order   *OrderSummaryResponse `json:"order,omitempty"`
}

type PreviewResponse struct {
	*service.CartView
	BonusBalance string `json:"bonus_balance"`
	BonusUsed    string `json:"bonus_used"`
	BonusEarned  string `json:"bonus_earned"`
	TotalAfter   string `json:"total_after"`
}

func newOrderSummaryResponse(s domain.OrderSummary) *OrderSummaryResponse {
	return &OrderSummaryResponse{
		OrderID:     s.OrderID,
		Total:       s.Total.StringFixed(2),
		BonusUsed:   s.BonusUsed.StringFixed(2),
		BonusEarned: s.BonusEarned.StringFixed(2),
	}
}

// Routes builds the chi router for the REST API.
func (h *HTTPHandler) Routes(auth *Authenticator, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)

			r.Get("/me", h.GetProfile)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Delete("/", h.ClearCart)
				r.Get("/preview", h.PreviewCart)
				r.Post("/items", h.AddItem)
				r.Put("/items/{product_id}", h.UpdateItem)
				r.Delete("/items/{product_id}", h.RemoveItem)
			})

			r.With(RequireCapabilities(domain.CapCheckout)).Post("/checkout", h.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Use(RequireCapabilities(domain.CapViewOrders))
				r.Get("/", h.ListOrders)
				r.Get("/{id}", h.GetOrder)
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(RequireCapabilities(domain.CapManageCatalog)).Post("/products", h.CreateProduct)
				r.With(RequireCapabilities(domain.CapManageCatalog)).Put("/products/{id}", h.UpdateProduct)
				r.With(RequireCapabilities(domain.CapManageOrders)).Delete("/orders/{id}", h.DeleteOrder)
			})
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, missing, err := h.users.Profile(r.Context(), PrincipalFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	respondJSON(w, http.StatusOK, ProfileResponse{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		Phone:         user.Phone,
		Bonus:         user.Bonus.StringFixed(2),
		Role:          string(user.Role),
		IsStaff:       user.IsStaff,
		MissingFields: missing,
	})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	products, err := h.catalog.ListProducts(r.Context(), limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.View(r.Context(), PrincipalFrom(r.Context()).UserID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := PrincipalFrom(r.Context()).UserID
	if _, err := h.carts.Add(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusCreated, userID)
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "product_id")
	if !ok {
		return
	}
	var req UpdateQuantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := PrincipalFrom(r.Context()).UserID
	if _, err := h.carts.Update(r.Context(), userID, productID, req.Quantity); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, userID)
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "product_id")
	if !ok {
		return
	}
	userID := PrincipalFrom(r.Context()).UserID
	if _, err := h.carts.Remove(r.Context(), userID, productID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, userID)
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), PrincipalFrom(r.Context()).UserID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) PreviewCart(w http.ResponseWriter, r *http.Request) {
	userID := PrincipalFrom(r.Context()).UserID
	view, err := h.carts.View(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	bonus, balance, err := h.checkout.Preview(r.Context(), userID, view.Total, service.ParseBonus(r.URL.Query().Get("bonus")))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, PreviewResponse{
		CartView:     view,
		BonusBalance: domain.Money(balance).StringFixed(2),
		BonusUsed:    bonus.Used.StringFixed(2),
		BonusEarned:  bonus.Earned.StringFixed(2),
		TotalAfter:   bonus.TotalAfter.StringFixed(2),
	})
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := PrincipalFrom(r.Context()).UserID

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		key = fmt.Sprintf("checkout:%d:%s", userID, key)
		claimed, orderID, err := h.idempotency.ClaimIdempotency(r.Context(), key)
		if err != nil {
			h.respondServiceError(w, r, fmt.Errorf("idempotency check failed: %w", err))
			return
		}
		if !claimed {
			respondDuplicate(w, orderID)
			return
		}
	} else {
		key = ""
	}

	summary, err := h.checkout.CheckoutCart(r.Context(), userID, req.Address, service.ParseBonus(rawBonus(req.Bonus)))
	if err != nil {
		if key != "" {
			h.releaseIdempotency(r.Context(), key)
		}
		h.respondServiceError(w, r, err)
		return
	}

	if key != "" {
		// the order is committed; a retry with this key must not see it as lost
		if err := h.idempotency.CompleteIdempotency(context.WithoutCancel(r.Context()), key, summary.OrderID); err != nil {
			h.logger.Error("order placed but idempotency result not stored",
				zap.String("order_id", summary.OrderID),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	respondJSON(w, http.StatusCreated, CheckoutHTTPResponse{
		Success: true,
		Message: "order placed successfully",
		Order:   newOrderSummaryResponse(*summary),
	})
}

// respondDuplicate answers a repeated Idempotency-Key. Without a stored order
// id the first request is still running, or its order was placed but the
// result could not be recorded.
func respondDuplicate(w http.ResponseWriter, orderID string) {
	if orderID == "" {
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: "duplicate request",
			Code:  "duplicate_request",
			Details: map[string]string{
				"status":  "pending",
				"message": "a request with this key is in progress or has already placed its order; check your orders before retrying",
			},
		})
		return
	}
	respondJSON(w, http.StatusConflict, ErrorResponse{
		Error:   "duplicate request",
		Code:    "duplicate_request",
		Details: map[string]string{"status": "completed", "order_id": orderID},
	})
}

func (h *HTTPHandler) releaseIdempotency(ctx context.Context, key string) {
	if err := h.idempotency.ReleaseIdempotency(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.DeleteOrder(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, 0, http.StatusCreated)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.saveProduct(w, r, id, http.StatusOK)
}

func (h *HTTPHandler) saveProduct(w http.ResponseWriter, r *http.Request, id int64, status int) {
	var req SaveProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	product := &domain.Product{ID: id, Name: strings.TrimSpace(req.Name), Price: req.Price, Stock: req.Stock}
	if err := h.catalog.SaveProduct(r.Context(), PrincipalFrom(r.Context()), product); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, status, product)
}

func (h *HTTPHandler) respondCart(w http.ResponseWriter, r *http.Request, status int, userID int64) {
	view, err := h.carts.View(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, status, view)
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			respondJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation failed",
				Code:    "validation_failed",
				Details: formatValidationError(verrs),
			})
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func formatValidationError(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		default:
			fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return fields
}

// respondServiceError maps service and domain errors to HTTP responses.
func (h *HTTPHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var profileErr *service.IncompleteProfileError

	switch {
	case errors.Is(err, service.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, service.ErrMissingAddress):
		respondError(w, http.StatusBadRequest, "missing_address", err.Error())
	case errors.As(err, &profileErr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   err.Error(),
			Code:    "incomplete_profile",
			Details: map[string][]string{"missing": profileErr.Fields},
		})
	case errors.Is(err, service.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, service.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "concurrency_conflict", service.ErrConcurrencyConflict.Error())
	case errors.Is(err, service.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, service.ErrProductNotFound), errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "you are not allowed to do this")
	case errors.Is(err, domain.ErrNegativePrice), errors.Is(err, domain.ErrNegativeStock), errors.Is(err, domain.ErrEmptyName):
		respondError(w, http.StatusBadRequest, "invalid_product", err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (h *HTTPHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_id", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// rawBonus accepts the bonus either as a JSON number or a string.
func rawBonus(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
