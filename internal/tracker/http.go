package tracker

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/safar/agri-supply-tracker/internal/api"
	"github.com/safar/agri-supply-tracker/internal/apperr"
	"github.com/safar/agri-supply-tracker/internal/config"
	"github.com/safar/agri-supply-tracker/internal/metrics"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AccountHeader selects the sending account for a request.
const AccountHeader = "X-Account"

type OutcomeBody struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message"`
	Data     *Outcome     `json:"data"`
	Warnings []string     `json:"warnings,omitempty"`
	Popup    models.Popup `json:"popup"`
}

type FailureBody struct {
	Success bool         `json:"success"`
	Kind    apperr.Kind  `json:"kind"`
	Message string       `json:"message"`
	Popup   models.Popup `json:"popup"`
}

type Handler struct {
	svc     *Service
	logger  *zap.Logger
	limiter *rate.Limiter
	origin  string
}

func NewHandler(svc *Service, cfg config.ServerConfig, logger *zap.Logger) *Handler {
	return &Handler{
		svc:     svc,
		logger:  logger,
		limiter: api.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		origin:  cfg.AllowedOrigin,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	h.handle(mux, "GET /health", "tracker_health", h.handleHealth())
	h.handle(mux, "POST /v1/products", "harvest", h.handleHarvest())
	h.handle(mux, "GET /v1/products", "tracker_list_products", h.handleListProducts())
	h.handle(mux, "GET /v1/products/{id}", "tracker_get_product", h.handleGetProduct())
	h.handle(mux, "POST /v1/products/{id}/status", "update_status", h.handleUpdateStatus())
	h.handle(mux, "POST /v1/products/{id}/sale", "put_for_sale", h.handlePutForSale())
	h.handle(mux, "POST /v1/products/{id}/purchase", "purchase", h.handlePurchase())
	h.handle(mux, "POST /v1/authorizations", "authorize_user", h.handleAuthorize())

	mux.Handle("GET /metrics", metrics.Handler())

	return api.CORS(h.origin, api.RateLimit(h.limiter, mux))
}

func (h *Handler) handle(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, metrics.InstrumentHandler(name, fn))
}

func (h *Handler) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health, err := h.svc.Health(r.Context())
		if err != nil {
			h.respondFailure(w, "health", err, "Ledger Unreachable")
			return
		}
		api.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    health,
		})
	}
}

func (h *Handler) handleHarvest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in HarvestInput
		if err := api.DecodeBody(w, r, &in); err != nil {
			h.respondFailure(w, "harvest", apperr.Validation("Invalid request body"), "Invalid Product")
			return
		}

		out, err := h.svc.Harvest(r.Context(), r.Header.Get(AccountHeader), in)
		if err != nil {
			h.respondFailure(w, "harvest", err, "Failed to Add Product")
			return
		}
		h.respondOutcome(w, http.StatusCreated, out, "Product Added",
			"Product "+strconv.FormatInt(out.ProductID, 10)+" recorded on the ledger")
	}
}

func (h *Handler) handleListProducts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listing, err := h.svc.ListProducts(r.Context())
		if err != nil {
			h.respondFailure(w, "list_products", err, "Products Unavailable")
			return
		}
		api.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":          true,
			"data":             listing.Products,
			"count":            len(listing.Products),
			"ledger_available": listing.LedgerAvailable,
			"mirror_available": listing.MirrorAvailable,
		})
	}
}

func (h *Handler) handleGetProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.respondFailure(w, "get_product", err, "Invalid Product")
			return
		}

		p, err := h.svc.Product(r.Context(), id)
		if err != nil {
			h.respondFailure(w, "get_product", err, "Product Unavailable")
			return
		}
		api.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    p,
		})
	}
}

func (h *Handler) handleUpdateStatus() http.HandlerFunc {
	type request struct {
		Status *int64 `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.respondFailure(w, "update_status", err, "Invalid Product")
			return
		}
		var req request
		if err := api.DecodeBody(w, r, &req); err != nil || req.Status == nil {
			h.respondFailure(w, "update_status", apperr.Validation("Status is required"), "Invalid Status")
			return
		}

		out, err := h.svc.UpdateStatus(r.Context(), r.Header.Get(AccountHeader), id, *req.Status)
		if err != nil {
			h.respondFailure(w, "update_status", err, "Failed to Update Status")
			return
		}
		st, _ := models.ParseStatus(*req.Status)
		h.respondOutcome(w, http.StatusOK, out, "Status Updated", "Product status is now "+st.String())
	}
}

func (h *Handler) handlePutForSale() http.HandlerFunc {
	type request struct {
		PriceWei decimal.Decimal `json:"price_wei"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.respondFailure(w, "put_for_sale", err, "Invalid Product")
			return
		}
		var req request
		if err := api.DecodeBody(w, r, &req); err != nil {
			h.respondFailure(w, "put_for_sale", apperr.Validation("Price must be a whole number of wei"), "Invalid Price")
			return
		}

		out, err := h.svc.PutForSale(r.Context(), r.Header.Get(AccountHeader), id, req.PriceWei)
		if err != nil {
			h.respondFailure(w, "put_for_sale", err, "Failed to List Product")
			return
		}
		h.respondOutcome(w, http.StatusOK, out, "Listed for Sale", "Product listed at "+req.PriceWei.String()+" wei")
	}
}

func (h *Handler) handlePurchase() http.HandlerFunc {
	type request struct {
		PaymentWei *decimal.Decimal `json:"payment_wei"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			h.respondFailure(w, "purchase", err, "Invalid Product")
			return
		}
		// An empty body pays the listed price.
		var req request
		if r.ContentLength != 0 {
			if err := api.DecodeBody(w, r, &req); err != nil {
				h.respondFailure(w, "purchase", apperr.Validation("Payment must be a whole number of wei"), "Invalid Payment")
				return
			}
		}

		out, err := h.svc.Purchase(r.Context(), r.Header.Get(AccountHeader), id, req.PaymentWei)
		if err != nil {
			h.respondFailure(w, "purchase", err, "Purchase Failed")
			return
		}
		h.respondOutcome(w, http.StatusOK, out, "Purchase Complete", "You now own this product")
	}
}

func (h *Handler) handleAuthorize() http.HandlerFunc {
	type request struct {
		Address string `json:"address"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := api.DecodeBody(w, r, &req); err != nil {
			h.respondFailure(w, "authorize_user", apperr.Validation("User must be a valid address"), "Invalid User")
			return
		}

		out, err := h.svc.AuthorizeUser(r.Context(), r.Header.Get(AccountHeader), req.Address)
		if err != nil {
			h.respondFailure(w, "authorize_user", err, "Authorization Failed")
			return
		}
		h.respondOutcome(w, http.StatusOK, out, "User Authorized", models.Address(req.Address).Short()+" may now record products")
	}
}

func (h *Handler) respondOutcome(w http.ResponseWriter, status int, out *Outcome, title, detail string) {
	popup := models.Popup{Type: models.PopupSuccess, Title: title, Message: detail}
	if len(out.Warnings) > 0 {
		popup = models.Popup{
			Type:    models.PopupWarning,
			Title:   title,
			Message: detail + ". " + strings.Join(out.Warnings, "; "),
		}
	}
	api.RespondJSON(w, status, OutcomeBody{
		Success:  true,
		Message:  title,
		Data:     out,
		Warnings: out.Warnings,
		Popup:    popup,
	})
}

func (h *Handler) respondFailure(w http.ResponseWriter, op string, err error, title string) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.logger.Error("tracker request failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Debug("tracker request rejected", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
	}

	msg := apperr.Message(err)
	api.RespondJSON(w, apperr.HTTPStatus(err), FailureBody{
		Kind:    kind,
		Message: msg,
		Popup:   models.Popup{Type: models.PopupError, Title: title, Message: msg},
	})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("Product id must be a positive integer")
	}
	return id, nil
}
