package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/upb/validation-portal/auth"
	"github.com/upb/validation-portal/config"
	"github.com/upb/validation-portal/identity"
	"github.com/upb/validation-portal/internal/observability"
	"github.com/upb/validation-portal/middleware"
	"github.com/upb/validation-portal/oidc"
	"github.com/upb/validation-portal/repositories"
	"github.com/upb/validation-portal/repositories/postgres"
	"github.com/upb/validation-portal/services"
	"github.com/upb/validation-portal/session"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users     repositories.UserRepository
	TxManager repositories.TransactionManager

	// Provider trust
	KeyStore  *oidc.KeyStore
	Verifier  *oidc.Verifier
	Exchanger services.TokenExchanger

	// Sessions. Redis is nil when state and sessions are kept in memory.
	Redis  *session.RedisStore
	Issuer *session.Issuer
	Binder *identity.Binder

	// Auth
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// GetLogger returns the application logger (implements handlers.AuthDeps)
func (d *Dependencies) GetLogger() *zap.Logger {
	return d.Logger
}

// NewDependencies opens the database from configuration and wires up all
// application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := newDependencies(ctx, cfg, factory, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithDB wires dependencies around an already open database
func NewDependenciesWithDB(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	return newDependencies(ctx, cfg, postgres.NewFactoryFromDB(db, logger), logger)
}

func newDependencies(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	deps.initRepositories()

	if err := deps.initSessions(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("session_strategy", cfg.Session.Strategy),
		zap.String("state_binding", cfg.Session.StateBinding))
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.TxManager = d.RepoFactory.GetTransactionManager()
}

// initSessions picks the state and session stores. Redis backs both when
// configured; otherwise a process-local store is used.
func (d *Dependencies) initSessions(ctx context.Context, cfg *config.Config) error {
	var (
		states   session.StateStore
		sessions session.SessionStore
	)

	needRedis := cfg.Session.StateBinding == config.StateBindingRedis ||
		(cfg.Redis.URL != "" && cfg.Session.Strategy != config.StrategyToken)

	if needRedis {
		if cfg.Redis.URL == "" {
			return errors.New("STATE_BINDING=redis requires REDIS_URL")
		}
		store, err := session.NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return err
		}
		d.Redis = store
		sessions = store
		if cfg.Session.StateBinding == config.StateBindingRedis {
			states = store
		}
		d.Logger.Info("redis session store connected")
	}

	if sessions == nil || (states == nil && cfg.Session.StateBinding == config.StateBindingMemory) {
		memory := session.NewMemoryStore()
		if sessions == nil {
			sessions = memory
		}
		if cfg.Session.StateBinding == config.StateBindingMemory {
			states = memory
		}
	}

	d.Issuer = session.NewIssuer(cfg.Session, sessions, states, d.Logger)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	httpClient := &http.Client{Timeout: cfg.OIDC.HTTPTimeout}

	storeCfg := oidc.KeyStoreConfig{
		TTL:                cfg.OIDC.JWKSCacheTTL,
		MinRefreshInterval: cfg.OIDC.JWKSMinRefresh,
		Logger:             d.Logger,
	}
	if d.Metrics != nil {
		storeCfg.OnFetch = d.Metrics.JWKSFetched
	}
	d.KeyStore = oidc.NewKeyStore(oidc.NewDiscoveryKeySource(cfg.OIDC.IssuerURL, httpClient), storeCfg)

	d.Verifier = oidc.NewVerifier(d.KeyStore, oidc.VerifierConfig{
		Issuer:   cfg.OIDC.IssuerURL,
		ClientID: cfg.OIDC.ClientID,
		Audience: cfg.OIDC.Audience,
		Leeway:   cfg.OIDC.Leeway,
	})
	d.Exchanger = services.NewOIDCTokenExchanger(cfg.OIDC, httpClient)
	d.Binder = identity.NewBinder(d.Users, d.TxManager, d.Logger)

	d.authHandler = auth.NewHandler(cfg.Session, d.Exchanger, d.Verifier, d.Binder, d.Issuer, d.Metrics, d.Logger)

	var sessions middleware.SessionLookup
	if d.Issuer.UsesServerSessions() {
		sessions = d.Issuer
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Verifier, d.Users, sessions, d.Metrics, d.Logger)

	d.Logger.Info("auth handler initialized", zap.String("issuer", cfg.OIDC.IssuerURL))
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
