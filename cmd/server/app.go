package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certinv/config"
	"certinv/internal/auth"
	"certinv/internal/cache"
	"certinv/internal/directory"
	"certinv/internal/handlers"
	"certinv/internal/inventory"
	"certinv/internal/metrics"
	"certinv/internal/store"
	"certinv/internal/store/memory"
	"certinv/internal/store/postgres"
)

const (
	listingTTL      = 30 * time.Second
	janitorInterval = time.Minute
)

// application holds the long-lived components shared by the router and the
// background workers.
type application struct {
	cfg       config.Config
	store     store.Store
	directory directory.Client
	registry  *prometheus.Registry
	sessions  *auth.SessionStore
	listings  *cache.Cache
	recorder  *metrics.Recorder
	service   *inventory.Service
}

func newApplication(cfg config.Config, st store.Store, dir directory.Client, registry *prometheus.Registry) *application {
	recorder := metrics.NewRecorder(registry)
	registry.MustRegister(metrics.NewInventoryCollector(st, dir, cfg.ExpirationThresholds.Warning))
	listings := cache.New(listingTTL)
	notifier := inventory.MultiNotifier{recorder, handlers.ListingInvalidator(listings)}
	return &application{
		cfg:       cfg,
		store:     st,
		directory: dir,
		registry:  registry,
		sessions:  auth.NewSessionStore(authUsers(cfg.Auth.Users), cfg.Auth.SessionTTL, cfg.Auth.SecureCookies),
		listings:  listings,
		recorder:  recorder,
		service:   inventory.New(st, dir, notifier),
	}
}

// runWorkers starts the cache janitor and session pruning. Both stop when
// stop is closed.
func (a *application) runWorkers(stop <-chan struct{}) {
	go a.listings.RunJanitor(janitorInterval, stop)
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.sessions.Prune()
			}
		}
	}()
}

func authUsers(settings []config.UserSettings) []auth.User {
	users := make([]auth.User, 0, len(settings))
	for _, user := range settings {
		users = append(users, auth.User{Email: user.Email, PasswordHash: user.PasswordHash, TOTPSecret: user.TOTPSecret})
	}
	return users
}

// openStore returns the configured record store and a close function. Pool
// gauges are registered when registerer is not nil.
func openStore(ctx context.Context, cfg config.DatabaseConfig, registerer prometheus.Registerer) (store.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), func() {}, nil
	case config.DriverPostgres:
		if cfg.MigrateOnStart {
			if err := postgres.RunMigrations(cfg.URL); err != nil {
				return nil, nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		if registerer != nil {
			metrics.RegisterPgxPoolMetrics(registerer, pool)
		}
		return postgres.New(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openDirectory(cfg config.DirectoryConfig) (directory.Client, error) {
	switch cfg.Kind {
	case config.DirectoryDisabled, "":
		return directory.NewDisabled(), nil
	case config.DirectoryCertaaS:
		return directory.NewCertaaS(directory.CertaaSConfig{BaseURL: cfg.URL, Token: cfg.Token, Timeout: cfg.Timeout})
	case config.DirectoryVault:
		return directory.NewVault(directory.VaultConfig{Addr: cfg.VaultAddr, Token: cfg.VaultToken, Mount: cfg.VaultMount, TLSInsecure: cfg.TLSInsecure})
	default:
		return nil, fmt.Errorf("unknown directory kind %q", cfg.Kind)
	}
}
