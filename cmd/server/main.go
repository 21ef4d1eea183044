package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/internal/config"
	"github.com/OrbitaAI/call-orchestrator/internal/esl"
	"github.com/OrbitaAI/call-orchestrator/internal/handler"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// Server represents the call orchestration server
type Server struct {
	config         *config.ServiceConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
	connector      *esl.Connector
	httpServer     *http.Server
}

// NewServer creates a new call orchestration server
func NewServer(cfg *config.ServiceConfig) *Server {
	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	// Create router
	router := mux.NewRouter()

	// Initialize handler manager - it will create all services internally
	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		return nil
	}

	// Setup all routes through handler manager
	handlerManager.SetupAllRoutes(router)

	server := &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}

	// Feed switch events into the orchestrator, and let the orchestrator
	// push teardown commands back over the same connection.
	if cfg.ESLEnabled {
		orch := handlerManager.GetOrchestrator()
		connector := esl.NewConnector(esl.Config{
			Host:     cfg.ESLHost,
			Port:     cfg.ESLPort,
			Password: cfg.ESLPassword,
		}, func(evt esl.Event) {
			orch.Ingest(evt.Headers, evt.Body)
		})
		orch.SetCommandSink(connector.SendAPI)
		server.connector = connector
	} else {
		logger.Base().Info("Switch event source disabled, events accepted over HTTP only")
	}

	return server
}

// Start starts the call orchestration server
func (s *Server) Start() error {
	if s.connector != nil {
		s.connector.Start()
	}

	addr := fmt.Sprintf(":%s", s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the event source first so no new events arrive, then
// drains in-flight work and closes backend connections.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
	defer cancel()

	if s.connector != nil {
		s.connector.Stop(5 * time.Second)
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Base().Warn("HTTP server shutdown error", zap.Error(err))
		}
	}
	s.handlerManager.Shutdown(ctx)
	logger.Sync()
}

// LoadConfigFromEnv loads call orchestration configuration from environment
func LoadConfigFromEnv() *config.ServiceConfig {
	cfg := &config.ServiceConfig{
		Port: getEnvOrDefault("ORCHESTRATOR_PORT", "8080"),

		// Instance identifier for multi-pod monitoring and routing
		InstanceID: getDynamicInstanceID(),

		EnableCORS: getEnvAsBoolOrDefault("ORCHESTRATOR_ENABLE_CORS", true),
		SecretKey:  getEnvOrDefault("SECRET_KEY", ""),

		// Manual emission is a testing surface, keep it on a short leash
		EmitRatePerSecond: getEnvAsFloatOrDefault("EMIT_RATE_PER_SECOND", 5),
		EmitBurst:         getEnvAsIntOrDefault("EMIT_BURST", 10),

		// FreeSWITCH event socket source
		ESLEnabled:  getEnvAsBoolOrDefault("ENABLE_FREESWITCH_BRIDGE", false),
		ESLHost:     getEnvOrDefault("FREESWITCH_HOST", "freeswitch"),
		ESLPort:     getEnvAsIntOrDefault("FREESWITCH_ESL_PORT", 8021),
		ESLPassword: getEnvOrDefault("FREESWITCH_ESL_PASSWORD", "ClueCon"),

		// Orchestration tuning
		EventQueueSize:  getEnvAsIntOrDefault("EVENT_QUEUE_SIZE", 256),
		DispatchTimeout: getEnvAsDurationOrDefault("DISPATCH_TIMEOUT", 10*time.Second),
		ShutdownGrace:   getEnvAsDurationOrDefault("SHUTDOWN_GRACE", 30*time.Second),

		// CRM collaborator selection
		CRMProvider:   getEnvOrDefault("CRM_PROVIDER", ""),
		CRMWebhookURL: getEnvOrDefault("CRM_WEBHOOK_URL", ""),
		CRMAPIKey:     getEnvOrDefault("CRM_API_KEY", ""),
	}

	// A webhook URL alone is enough to select the webhook provider
	if cfg.CRMProvider == "" && cfg.CRMWebhookURL != "" {
		cfg.CRMProvider = "webhook"
	}

	return cfg
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault gets environment variable as duration or returns default
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getDynamicInstanceID generates a unique identifier for this service instance.
// It first tries to use the system hostname (pod name in K8s),
// then falls back to a timestamp-based ID.
func getDynamicInstanceID() string {

	// 1. Try system hostname (Pod Name in Kubernetes)
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	// 2. Fallback to timestamp based ID
	return fmt.Sprintf("call-orchestrator-%d", time.Now().UnixNano())
}

func main() {
	// 0. Load .env file for local development if it exists
	// This will not override environment variables set by Helm/Docker
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	// 1. Load configuration from environment
	cfg := LoadConfigFromEnv()

	// 2. Create the server
	server := NewServer(cfg)
	if server == nil {
		log.Fatal("Failed to create server")
	}
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID))

	// 3. Start the server
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 4. Wait for a termination signal or a listener failure
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	case sig := <-stop:
		logger.Base().Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	server.Shutdown()
}
