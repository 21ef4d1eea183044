package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/OrbitaAI/call-orchestrator/internal/config"
	"github.com/OrbitaAI/call-orchestrator/internal/core/session"
	"github.com/OrbitaAI/call-orchestrator/internal/crm"
	"github.com/OrbitaAI/call-orchestrator/internal/monitoring"
	"github.com/OrbitaAI/call-orchestrator/internal/orchestrator"
	"github.com/OrbitaAI/call-orchestrator/internal/repository"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
	"github.com/OrbitaAI/call-orchestrator/pkg/redis"
)

// HandlerManager manages all handlers and their backing services
type HandlerManager struct {
	config      *config.ServiceConfig
	service     *orchestrator.Orchestrator
	recorder    *monitoring.Recorder
	repoManager repository.RepositoryManager
	redisSvc    *redis.RedisService
	emitLimiter *rate.Limiter
}

// NewHandlerManager creates and initializes all services
func NewHandlerManager(cfg *config.ServiceConfig) (*HandlerManager, error) {
	recorder := monitoring.NewRecorder()

	// Database is optional. Without it the service still orchestrates events,
	// it just cannot persist call logs or use the database CRM provider.
	var repoManager repository.RepositoryManager
	if repository.IsDatabaseConfigured() {
		var err error
		repoManager, err = repository.NewRepositoryManager()
		if err != nil {
			logger.Base().Error("failed to connect to database", zap.Error(err))
			return nil, err
		}
	} else {
		logger.Base().Info("database not configured, call log persistence disabled")
	}

	// Initialize Redis service for the cross-pod session mirror
	redisSvc := connectRedis()

	var sessionManager *session.Manager
	if redisSvc != nil {
		podID := cfg.InstanceID
		if podID == "" {
			podID = "default-pod"
		}
		sessionManager = session.NewManager(redisSvc, podID)
		logger.Base().Info("session manager initialized", zap.String("pod_id", podID))
	}

	// A misconfigured CRM must not keep call events from flowing, so the
	// adapter is dropped with a warning instead of failing startup.
	crmAdapter, err := crm.NewAdapter(crm.Config{
		Provider:   crm.Provider(cfg.CRMProvider),
		WebhookURL: cfg.CRMWebhookURL,
		APIKey:     cfg.CRMAPIKey,
	}, repoManager)
	if err != nil {
		logger.Base().Warn("CRM integration disabled", zap.Error(err))
		crmAdapter = nil
	}

	service := orchestrator.NewOrchestrator(orchestrator.Options{
		CRM:             crmAdapter,
		Telemetry:       recorder,
		Sessions:        sessionManager,
		QueueSize:       cfg.EventQueueSize,
		DispatchTimeout: cfg.DispatchTimeout,
	})
	service.Start()

	return &HandlerManager{
		config:      cfg,
		service:     service,
		recorder:    recorder,
		repoManager: repoManager,
		redisSvc:    redisSvc,
		emitLimiter: rate.NewLimiter(rate.Limit(cfg.EmitRatePerSecond), cfg.EmitBurst),
	}, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	// Apply global middleware
	if hm.config.EnableCORS {
		router.Use(CORSMiddleware)
	}
	router.Use(GlobalLoggingMiddleware)

	// Setup orchestration API routes
	orchestrationHandler := NewOrchestrationHandler(hm.service, hm.emitLimiter)
	orchestrationHandler.SetupOrchestrationRoutes(router, hm.config.SecretKey)

	// Setup health and status routes
	opsHandler := NewOpsHandler(hm.service, hm.recorder, hm.repoManager, hm.redisSvc)
	opsHandler.SetupOpsRoutes(router)

	// Setup CORS preflight handling for all API routes
	router.PathPrefix("/api/").HandlerFunc(handleCORS).Methods("OPTIONS")

	logger.Base().Info("all application routes registered")
}

// GetOrchestrator returns the orchestration core
func (hm *HandlerManager) GetOrchestrator() *orchestrator.Orchestrator {
	return hm.service
}

// GetRepoManager returns the repository manager, nil when the database is
// not configured
func (hm *HandlerManager) GetRepoManager() repository.RepositoryManager {
	return hm.repoManager
}

// Shutdown drains the orchestrator and closes backend connections
func (hm *HandlerManager) Shutdown(ctx context.Context) {
	hm.service.Shutdown(ctx)

	if hm.repoManager != nil {
		if err := hm.repoManager.Close(); err != nil {
			logger.Base().Warn("failed to close database connection", zap.Error(err))
		}
	}
	if hm.redisSvc != nil {
		if err := hm.redisSvc.Close(); err != nil {
			logger.Base().Warn("failed to close redis connection", zap.Error(err))
		}
	}
}

// connectRedis initializes the redis service used by the session mirror.
// The service runs without the mirror when redis is unreachable.
func connectRedis() *redis.RedisService {
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisConfig := &redis.RedisConfig{
		Host:     redisHost,
		Port:     redisPort,
		Password: redisPassword,
		DB:       0, // Default DB
	}
	redisSvc, err := redis.NewRedisService(redisConfig)
	if err != nil {
		logger.Base().Warn("failed to initialize redis service, running without session mirror", zap.Error(err))
		return nil
	}
	return redisSvc
}

// handleCORS handles CORS preflight requests for API routes
func handleCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
	w.WriteHeader(http.StatusOK)
}
