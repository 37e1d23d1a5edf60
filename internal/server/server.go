package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/contentguard/contentguard/internal/access"
	"github.com/contentguard/contentguard/internal/api"
	"github.com/contentguard/contentguard/internal/cache"
	"github.com/contentguard/contentguard/internal/config"
	"github.com/contentguard/contentguard/internal/content"
	"github.com/contentguard/contentguard/internal/metrics"
	"github.com/contentguard/contentguard/internal/objecttype"
	"github.com/contentguard/contentguard/internal/usergroup"

	_ "modernc.org/sqlite"
)

// Server represents the contentguard server
type Server struct {
	config        *config.Config
	httpServer    *http.Server
	db            *sql.DB
	cacheProvider cache.Provider
	accessHandler *access.Handler
	registry      *objecttype.Registry
	startTime     time.Time
}

// New creates a new contentguard server
func New(cfg *config.Config) (*Server, error) {
	db, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := usergroup.NewStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize group store: %w", err)
	}
	provider, err := content.NewSQLiteProvider(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize content provider: %w", err)
	}

	cacheProvider, err := newCacheProvider(cfg.Cache)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	var m *metrics.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Metrics.Enable {
		m = metrics.New(promRegistry)
	}

	registry := objecttype.NewRegistry()
	accessHandler := access.NewHandler(store, provider, registry, cacheProvider, access.Options{
		LockRecursive:              cfg.Access.LockRecursive,
		AuthorsHasAccessToOwn:      cfg.Access.AuthorsHasAccessToOwn,
		AuthorsCanAddPostsToGroups: cfg.Access.AuthorsCanAddPostsToGroups,
		FullAccessRole:             cfg.Access.FullAccessRole,
	}, m)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	server := &Server{
		config:        cfg,
		httpServer:    httpServer,
		db:            db,
		cacheProvider: cacheProvider,
		accessHandler: accessHandler,
		registry:      registry,
		startTime:     time.Now(),
	}
	server.setupRoutes(promRegistry)
	return server, nil
}

// AccessHandler exposes the decision engine, for embedding callers that
// register pluggable types or consume decisions in-process.
func (s *Server) AccessHandler() *access.Handler {
	return s.accessHandler
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newCacheProvider(cfg config.CacheConfig) (cache.Provider, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "none":
		return cache.Nop{}, nil
	default:
		return cache.NewMemory(cfg.Size)
	}
}

func (s *Server) setupRoutes(promRegistry *prometheus.Registry) {
	router := mux.NewRouter()

	apiHandler := api.NewHandler(s.accessHandler)
	apiHandler.RegisterRoutes(router)

	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	handler := api.RequestID(router)
	handler = handlers.CombinedLoggingHandler(os.Stdout, handler)
	s.httpServer.Handler = handlers.RecoveryHandler()(handler)
}

// Start starts the contentguard server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":  s.config.Listen,
		"data_dir": s.config.DataDir,
		"cache":    s.config.Cache.Backend,
	}).Info("Starting contentguard server")

	go func() {
		if err := s.listen(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("HTTP server error")
		}
	}()

	<-ctx.Done()
	return s.shutdown()
}

func (s *Server) listen() error {
	if s.config.EnableTLS {
		return s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown HTTP server")
	}

	if closer, ok := s.cacheProvider.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close cache")
		}
	}

	if err := s.db.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close database")
	}
	return nil
}
