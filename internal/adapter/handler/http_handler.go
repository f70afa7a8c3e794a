package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rl1809/inventory-scan/internal/core/domain"
	"github.com/rl1809/inventory-scan/internal/core/service"
)

const notFoundHint = "Item not found in Redis. Try scanning with: inventory ID, product ID, or item name"

type HTTPHandler struct {
	resolver       *service.ResolverService
	registration   *service.RegistrationService
	rejectTampered bool
	logger         *slog.Logger
}

type ScanHTTPResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message,omitempty"`
	Key      string                  `json:"key,omitempty"`
	Strategy service.Strategy        `json:"strategy,omitempty"`
	Verified bool                    `json:"verified"`
	Record   *domain.InventoryRecord `json:"record,omitempty"`
}

type CreateRecordHTTPRequest struct {
	ID          string          `json:"id"`
	Category    domain.Category `json:"category"`
	ProductID   string          `json:"product_id"`
	InventoryID string          `json:"inventory_id"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	Notes       string          `json:"notes"`
}

type RecordHTTPResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message,omitempty"`
	Key     string                  `json:"key,omitempty"`
	Record  *domain.InventoryRecord `json:"record,omitempty"`
}

type VerifyHTTPResponse struct {
	Key              string `json:"key"`
	ScanCode         string `json:"scan_code"`
	VerificationCode string `json:"verification_code"`
	Verified         bool   `json:"verified"`
}

func NewHTTPHandler(resolver *service.ResolverService, registration *service.RegistrationService, rejectTampered bool, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		resolver:       resolver,
		registration:   registration,
		rejectTampered: rejectTampered,
		logger:         logger,
	}
}

// Routes registers every endpoint on mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/scan", h.Scan)
	mux.HandleFunc("GET /api/v1/scan/{raw...}", h.Scan)
	mux.HandleFunc("POST /api/v1/inventory", h.Create)
	mux.HandleFunc("PATCH /api/v1/inventory/{key}", h.Update)
	mux.HandleFunc("DELETE /api/v1/inventory/{key}", h.Delete)
	mux.HandleFunc("GET /api/v1/inventory/{key}/verify", h.Verify)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

// Scan resolves the input given either as the trailing path or as ?code=.
// Full URLs must be path-escaped when passed in the path.
func (h *HTTPHandler) Scan(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("raw")
	if code := r.URL.Query().Get("code"); code != "" {
		raw = code
	}
	if strings.TrimSpace(raw) == "" {
		writeJSON(w, http.StatusBadRequest, ScanHTTPResponse{
			Success: false,
			Message: "missing scan input",
		})
		return
	}

	res, err := h.resolver.Resolve(r.Context(), raw)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ScanHTTPResponse{
			Success: false,
			Message: "internal error",
		})
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, ScanHTTPResponse{
			Success: false,
			Message: notFoundHint,
		})
		return
	}
	if !res.Verified && h.rejectTampered {
		h.logger.WarnContext(r.Context(), "rejected tampered record", "key", res.Key, "input", raw)
		writeJSON(w, http.StatusConflict, ScanHTTPResponse{
			Success: false,
			Message: "verification code mismatch",
			Key:     res.Key,
		})
		return
	}

	writeJSON(w, http.StatusOK, ScanHTTPResponse{
		Success:  true,
		Key:      res.Key,
		Strategy: res.Strategy,
		Verified: res.Verified,
		Record:   &res.Record,
	})
}

func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, RecordHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	rec, key, err := h.registration.Register(r.Context(), domain.InventoryRecord{
		ID:                  req.ID,
		Category:            req.Category,
		ProductIdentifier:   req.ProductID,
		InventoryIdentifier: req.InventoryID,
		Name:                req.Name,
		Quantity:            req.Quantity,
		Notes:               req.Notes,
	})
	if err != nil {
		status, message := errorStatus(err)
		writeJSON(w, status, RecordHTTPResponse{Success: false, Message: message})
		return
	}

	writeJSON(w, http.StatusCreated, RecordHTTPResponse{
		Success: true,
		Key:     key,
		Record:  rec,
	})
}

func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var patch domain.RecordPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, RecordHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	rec, err := h.registration.Update(r.Context(), key, patch)
	if err != nil {
		status, message := errorStatus(err)
		writeJSON(w, status, RecordHTTPResponse{Success: false, Message: message})
		return
	}

	writeJSON(w, http.StatusOK, RecordHTTPResponse{
		Success: true,
		Key:     key,
		Record:  rec,
	})
}

func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registration.Delete(r.Context(), r.PathValue("key")); err != nil {
		status, message := errorStatus(err)
		writeJSON(w, status, RecordHTTPResponse{Success: false, Message: message})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	res, err := h.resolver.Lookup(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, RecordHTTPResponse{
			Success: false,
			Message: "internal error",
		})
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, RecordHTTPResponse{
			Success: false,
			Message: "record not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, VerifyHTTPResponse{
		Key:              key,
		ScanCode:         res.Record.ScanCode,
		VerificationCode: res.Record.VerificationCode,
		Verified:         res.Verified,
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound, "record not found"
	case errors.Is(err, domain.ErrDuplicateRecord):
		return http.StatusConflict, "record already exists"
	case errors.Is(err, domain.ErrOptimisticLock):
		return http.StatusConflict, "record was modified concurrently, retry"
	case errors.Is(err, domain.ErrMalformedEntry):
		return http.StatusUnprocessableEntity, "stored entry is not a valid record"
	case errors.Is(err, service.ErrCodeCollision):
		return http.StatusServiceUnavailable, "could not allocate a unique scan code, retry"
	case errors.Is(err, service.ErrQueueClosed):
		return http.StatusServiceUnavailable, "service shutting down"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
