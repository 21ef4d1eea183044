package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/OrbitaAI/call-orchestrator/internal/orchestrator"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// OrchestrationHandler exposes the endpoint registry and manual event
// emission over HTTP
type OrchestrationHandler struct {
	service *orchestrator.Orchestrator
	limiter *rate.Limiter
}

// NewOrchestrationHandler creates a new orchestration handler
func NewOrchestrationHandler(service *orchestrator.Orchestrator, limiter *rate.Limiter) *OrchestrationHandler {
	return &OrchestrationHandler{
		service: service,
		limiter: limiter,
	}
}

// RegisterEndpointRequest represents a webhook subscription request
type RegisterEndpointRequest struct {
	URL    string   `json:"url"`              // Webhook URL to POST events to (required)
	Events []string `json:"events,omitempty"` // Event types to receive, defaults to ["*"]
}

// EmitResponse represents the outcome of a manual event emission
type EmitResponse struct {
	Dispatched int                           `json:"dispatched"`
	Results    []orchestrator.DispatchResult `json:"results"`
}

// HangupResponse acknowledges a call teardown request
type HangupResponse struct {
	Status string `json:"status"`
	CallID string `json:"call_id"`
}

// SetupOrchestrationRoutes sets up routes for the orchestration API
func (h *OrchestrationHandler) SetupOrchestrationRoutes(router *mux.Router, secretKey string) {
	orchRouter := router.PathPrefix("/api/v1/orchestration").Subrouter()
	orchRouter.Use(CORSMiddleware)
	orchRouter.Use(LoggingMiddleware)
	orchRouter.Use(ValidationMiddleware)
	orchRouter.Use(APIKeyMiddleware(secretKey))

	// GET /api/v1/orchestration/endpoints - List registered webhook endpoints
	orchRouter.HandleFunc("/endpoints", h.HandleListEndpoints).Methods("GET")

	// POST /api/v1/orchestration/endpoints - Register a webhook endpoint
	orchRouter.HandleFunc("/endpoints", h.HandleRegisterEndpoint).Methods("POST")

	// DELETE /api/v1/orchestration/endpoints/{endpoint_id} - Remove a registration
	orchRouter.HandleFunc("/endpoints/{endpoint_id}", h.HandleUnregisterEndpoint).Methods("DELETE")

	// DELETE /api/v1/orchestration/calls/{call_id} - Request call teardown
	orchRouter.HandleFunc("/calls/{call_id}", h.HandleHangupCall).Methods("DELETE")

	// POST /api/v1/orchestration/emit/{event_type} - Emit a test event
	emitRouter := orchRouter.PathPrefix("/emit").Subrouter()
	emitRouter.Use(RateLimitMiddleware(h.limiter))
	emitRouter.HandleFunc("/{event_type}", h.HandleEmitEvent).Methods("POST")

	logger.Base().Info("Orchestration routes registered")
}

// HandleListEndpoints returns the current webhook registrations
// GET /api/v1/orchestration/endpoints
func (h *OrchestrationHandler) HandleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.service.ListEndpoints()
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, endpoints)
}

// HandleRegisterEndpoint subscribes a webhook URL to events
// POST /api/v1/orchestration/endpoints
func (h *OrchestrationHandler) HandleRegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	bodyBytes, ok := h.readRequestBody(w, r, "register_endpoint")
	if !ok {
		return
	}

	var request RegisterEndpointRequest
	if !h.parseJSON(w, bodyBytes, &request, "register_endpoint") {
		return
	}

	if !isValidWebhookURL(request.URL) {
		h.sendError(w, http.StatusBadRequest, "url must be a valid http or https URL")
		return
	}

	endpoint, err := h.service.RegisterEndpoint(request.URL, request.Events)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	logger.Base().Info("Registered workflow endpoint",
		zap.String("endpoint_id", endpoint.ID),
		zap.String("url", endpoint.URL))
	h.sendJSON(w, http.StatusOK, endpoint)
}

// HandleUnregisterEndpoint removes a webhook registration
// DELETE /api/v1/orchestration/endpoints/{endpoint_id}
func (h *OrchestrationHandler) HandleUnregisterEndpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	endpointID := vars["endpoint_id"]

	if err := h.service.UnregisterEndpoint(endpointID); err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"removed": endpointID,
	})
}

// HandleEmitEvent emits a test event to registered endpoints. The payload is
// forwarded to subscribers as-is; delivery failure is reported in-band, so
// the response is 200 even when every delivery failed.
// POST /api/v1/orchestration/emit/{event_type}
func (h *OrchestrationHandler) HandleEmitEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	eventType := vars["event_type"]

	bodyBytes, ok := h.readRequestBody(w, r, "emit_event")
	if !ok {
		return
	}

	payload := make(map[string]interface{})
	if len(bodyBytes) > 0 && !h.parseJSON(w, bodyBytes, &payload, "emit_event") {
		return
	}

	results, err := h.service.EmitTestEvent(r.Context(), eventType, payload)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, EmitResponse{
		Dispatched: len(results),
		Results:    results,
	})
}

// HandleHangupCall asks the switch to tear down an active call
// DELETE /api/v1/orchestration/calls/{call_id}
func (h *OrchestrationHandler) HandleHangupCall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	callID := vars["call_id"]

	if err := h.service.RequestHangup(r.Context(), callID); err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, http.StatusAccepted, HangupResponse{
		Status: "cleanup_requested",
		CallID: callID,
	})
}

// readRequestBody reads the request body
func (h *OrchestrationHandler) readRequestBody(w http.ResponseWriter, r *http.Request, operation string) ([]byte, bool) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Error("Failed to read request body", zap.String("operation", operation))
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	defer r.Body.Close()

	return bodyBytes, true
}

// parseJSON parses JSON and handles errors
func (h *OrchestrationHandler) parseJSON(w http.ResponseWriter, bodyBytes []byte, target interface{}, operation string) bool {
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		logger.Base().Error("Failed to parse request", zap.String("operation", operation))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *OrchestrationHandler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Base().Error("Failed to encode response", zap.Error(err))
	}
}

func (h *OrchestrationHandler) sendError(w http.ResponseWriter, status int, message string) {
	h.sendJSON(w, status, map[string]string{"error": message})
}

// sendServiceError maps orchestration errors onto HTTP statuses
func (h *OrchestrationHandler) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotInitialized):
		h.sendError(w, http.StatusServiceUnavailable, "Orchestration not initialized")
	case errors.Is(err, orchestrator.ErrEndpointNotFound):
		h.sendError(w, http.StatusNotFound, "Endpoint not found")
	default:
		logger.Base().Error("Orchestration request failed", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// isValidWebhookURL requires an absolute http(s) URL with a host
func isValidWebhookURL(raw string) bool {
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
