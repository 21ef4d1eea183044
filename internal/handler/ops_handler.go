package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/internal/monitoring"
	"github.com/OrbitaAI/call-orchestrator/internal/orchestrator"
	"github.com/OrbitaAI/call-orchestrator/internal/repository"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
	"github.com/OrbitaAI/call-orchestrator/pkg/redis"
)

const healthCheckTimeout = 2 * time.Second

// OpsHandler serves the health and status endpoints used by probes and
// operators. These routes carry no authentication.
type OpsHandler struct {
	service  *orchestrator.Orchestrator
	recorder *monitoring.Recorder
	repos    repository.RepositoryManager
	redisSvc *redis.RedisService
}

// NewOpsHandler creates a new ops handler. repos and redisSvc may be nil
// when the corresponding backend is not configured.
func NewOpsHandler(service *orchestrator.Orchestrator, recorder *monitoring.Recorder, repos repository.RepositoryManager, redisSvc *redis.RedisService) *OpsHandler {
	return &OpsHandler{
		service:  service,
		recorder: recorder,
		repos:    repos,
		redisSvc: redisSvc,
	}
}

// SetupOpsRoutes sets up health, status and call-log read routes
func (h *OpsHandler) SetupOpsRoutes(router *mux.Router) {
	// Health endpoint at the root for load balancer probes
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Status and call-log endpoints (no validation needed for these)
	statusRouter := router.PathPrefix("/api/v1/orchestration").Subrouter()
	statusRouter.Use(CORSMiddleware)
	statusRouter.Use(LoggingMiddleware)
	statusRouter.HandleFunc("/status", h.HandleStatus).Methods("GET")
	if h.repos != nil {
		statusRouter.HandleFunc("/calls", h.HandleListCalls).Methods("GET")
	}

	logger.Base().Info("Ops routes registered", zap.Bool("call_log_enabled", h.repos != nil))
}

// HandleHealth reports service liveness plus a ping summary for each
// configured backend
// GET /health
func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report := map[string]string{
		"status":   "healthy",
		"database": "unconfigured",
		"redis":    "unconfigured",
	}

	if h.repos != nil {
		report["database"] = "ok"
		if err := h.repos.Ping(ctx); err != nil {
			logger.Base().Warn("Database health check failed", zap.Error(err))
			report["database"] = "unavailable"
			report["status"] = "degraded"
		}
	}

	if h.redisSvc != nil {
		report["redis"] = "ok"
		if err := h.redisSvc.Ping(ctx); err != nil {
			logger.Base().Warn("Redis health check failed", zap.Error(err))
			report["redis"] = "unavailable"
			report["status"] = "degraded"
		}
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleStatus reports orchestration state and the telemetry snapshot
// GET /api/v1/orchestration/status
func (h *OpsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service":       "call-orchestrator",
		"timestamp":     time.Now().Format(time.RFC3339),
		"orchestration": h.service.Status(),
	}
	if h.recorder != nil {
		status["telemetry"] = h.recorder.Snapshot()
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleListCalls returns the most recently finalized call logs
// GET /api/v1/orchestration/calls?limit=50
func (h *OpsHandler) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	calls, err := h.repos.CallLog().ListRecent(r.Context(), limit)
	if err != nil {
		logger.Base().Error("Failed to list call logs", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list call logs"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(calls),
		"calls": calls,
	})
}

func (h *OpsHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Base().Error("Failed to encode response", zap.Error(err))
	}
}
