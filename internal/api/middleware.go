package api

import (
	"net/http"

	"github.com/safar/agri-supply-tracker/internal/models"
	"golang.org/x/time/rate"
)

// NewLimiter builds a shared token bucket. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func RateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			RespondJSON(w, http.StatusTooManyRequests, ErrorBody{
				Message: "Too many requests",
				Error:   "rate_limited",
				Popup: models.Popup{
					Type:    models.PopupError,
					Title:   "Slow Down",
					Message: "Too many requests, please retry shortly.",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS lets the dApp at origin call the API with credentials.
func CORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Account")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
