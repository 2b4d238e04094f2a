package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/iap-service/internal/domain"
)

const (
	maxBodyBytes = 64 << 10
	writeSlack   = 10 * time.Second
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("IAP fetch service is running\n"))
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req domain.FetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.ValidateLimit(s.config.MaxLocales); err != nil {
		s.respondWithError(w, errorStatus(err), err.Error())
		return
	}

	// The deadline grows with the locale count so every locale keeps its own
	// full timeout.
	deadline := s.config.FetchDeadline(len(req.LocaleCodes()))
	ctx, cancel := context.WithTimeout(r.Context(), deadline)
	defer cancel()
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(deadline + writeSlack)); err != nil {
		s.logger.Debug("write deadline not extended", zap.Error(err))
	}

	agg := s.fetcher.FetchAll(ctx, req.Product(), req.LocaleCodes(), req.PathSegment())
	s.respondWithJSON(w, http.StatusOK, domain.FetchResponse{Success: true, Data: agg})
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.respondWithError(w, http.StatusNotImplemented, "snapshot history is not configured")
		return
	}

	productID := chi.URLParam(r, "productId")
	locale := strings.ToLower(chi.URLParam(r, "locale"))
	if err := (domain.FetchRequest{ProductID: domain.ProductID(productID), Locales: []string{locale}}).Validate(); err != nil {
		s.respondWithError(w, errorStatus(err), err.Error())
		return
	}

	snap, err := s.snapshots.LatestSnapshot(r.Context(), productID, locale)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "no snapshot recorded for this product and locale")
			return
		}
		s.logger.Error("failed to load snapshot", zap.String("product_id", productID), zap.String("locale", locale), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not load snapshot")
		return
	}

	s.respondWithJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"service": "healthy"}
	isHealthy := true
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			healthStatus[name] = "unhealthy"
			isHealthy = false
			s.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		healthStatus[name] = "healthy"
	}

	if !isHealthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func errorStatus(err error) int {
	if domain.IsValidation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, domain.FetchResponse{Success: false, Error: message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
