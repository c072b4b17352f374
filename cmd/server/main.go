package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/lychee-technology/registra"
	"github.com/lychee-technology/registra/factory"
	"go.uber.org/zap"
)

// Server represents the HTTP server over a SchemaStore
type Server struct {
	store  registra.SchemaStore
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(store registra.SchemaStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:  store,
		logger: logger,
		mux:    http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/schemas", s.handleListSchemas)
	s.mux.HandleFunc("/schema/", s.schemaHandler)
	s.mux.HandleFunc("/compat/", s.handleVersionCompat)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	config, err := loadServerConfig()
	if err != nil {
		sugar.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()
	store, closeFn, err := factory.NewSchemaStore(ctx, config, logger)
	if err != nil {
		sugar.Fatalf("failed to create schema store: %v", err)
	}
	defer closeFn()

	server := NewServer(store, logger)
	server.RegisterRoutes()

	httpServer := &http.Server{
		Addr:         config.Server.Addr,
		Handler:      server.mux,
		ReadTimeout:  config.Server.ReadTimeout.Std(),
		WriteTimeout: config.Server.WriteTimeout.Std(),
		IdleTimeout:  config.Server.IdleTimeout.Std(),
	}

	sugar.Infow("starting server",
		"addr", config.Server.Addr,
		"driver", string(config.Backend.Driver))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalf("server error: %v", err)
	}
}

// loadServerConfig reads CONFIG_FILE when set, then applies environment
// overrides on top.
func loadServerConfig() (*registra.Config, error) {
	var (
		config *registra.Config
		err    error
	)
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		config, err = registra.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	} else {
		config = registra.DefaultConfig()
	}

	config.Backend.Driver = registra.BackendDriver(getEnv("BACKEND_DRIVER", string(config.Backend.Driver)))
	config.Backend.Path = getEnv("SQLITE_PATH", config.Backend.Path)
	config.Backend.Postgres.Host = getEnv("DB_HOST", config.Backend.Postgres.Host)
	config.Backend.Postgres.Port = getEnvInt("DB_PORT", config.Backend.Postgres.Port)
	config.Backend.Postgres.Database = getEnv("DB_NAME", config.Backend.Postgres.Database)
	config.Backend.Postgres.Username = getEnv("DB_USER", config.Backend.Postgres.Username)
	config.Backend.Postgres.Password = getEnv("DB_PASSWORD", config.Backend.Postgres.Password)
	config.Backend.Postgres.SSLMode = getEnv("DB_SSL_MODE", config.Backend.Postgres.SSLMode)
	config.Backend.Postgres.MaxConnections = getEnvInt("DB_MAX_CONNECTIONS", config.Backend.Postgres.MaxConnections)
	config.Server.Addr = getEnv("ADDR", config.Server.Addr)
	if ttl := getEnvInt("CACHE_TTL_SECONDS", 0); ttl > 0 {
		config.Cache.TTL = registra.Duration(time.Duration(ttl) * time.Second)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
