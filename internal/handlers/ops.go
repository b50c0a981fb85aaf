package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"certinv/config"
	"certinv/internal/directory"
	"certinv/internal/httputil"
	"certinv/internal/logger"
	"certinv/internal/store"
	"certinv/internal/version"
	"certinv/middleware"
)

const probeTimeout = 5 * time.Second

// Ops serves liveness, readiness, status, version and public config.
type Ops struct {
	store     store.Store
	directory directory.Client
	cfg       config.Config
}

func NewOps(st store.Store, dir directory.Client, cfg config.Config) *Ops {
	return &Ops{store: st, directory: dir, cfg: cfg}
}

func (o *Ops) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", HealthCheck)
	r.Get("/api/ready", o.ready)
	r.Get("/api/status", o.status)
	r.Get("/api/version", versionInfo)
	r.Get("/api/config", o.publicConfig)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (o *Ops) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	if err := o.store.Ping(ctx); err != nil {
		logger.HTTPError(r.Method, r.URL.Path, http.StatusServiceUnavailable, err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("record store not ready")
		httputil.WriteError(w, http.StatusServiceUnavailable, "Record store unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type componentStatus struct {
	Connected bool   `json:"connected"`
	Kind      string `json:"kind"`
	Error     string `json:"error,omitempty"`
}

type statusResponse struct {
	Version   string          `json:"version"`
	Store     componentStatus `json:"store"`
	Directory componentStatus `json:"directory"`
}

// status probes the store and the directory concurrently. Only a store
// failure makes the service unhealthy; search falls back to local mode
// without the directory.
func (o *Ops) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	response := statusResponse{
		Version:   version.Version,
		Store:     componentStatus{Kind: o.cfg.Database.Driver},
		Directory: componentStatus{Kind: o.cfg.Directory.Kind},
	}
	var g errgroup.Group
	g.Go(func() error {
		response.Store = probe(ctx, response.Store, o.store.Ping)
		return nil
	})
	g.Go(func() error {
		response.Directory = probe(ctx, response.Directory, o.directory.CheckConnection)
		return nil
	})
	_ = g.Wait()

	status := http.StatusOK
	if !response.Store.Connected {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, response)
}

func probe(ctx context.Context, component componentStatus, check func(context.Context) error) componentStatus {
	if err := check(ctx); err != nil {
		component.Error = err.Error()
		return component
	}
	component.Connected = true
	return component
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, version.Info())
}

// ConfigResponse holds the configuration exposed to clients. Secrets and
// addresses are left out.
type ConfigResponse struct {
	Environment          string                      `json:"environment"`
	StoreDriver          string                      `json:"storeDriver"`
	DirectoryKind        string                      `json:"directoryKind"`
	ExpirationThresholds config.ExpirationThresholds `json:"expirationThresholds"`
	AuthEnabled          bool                        `json:"authEnabled"`
}

func (o *Ops) publicConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, ConfigResponse{
		Environment:          string(o.cfg.Env),
		StoreDriver:          o.cfg.Database.Driver,
		DirectoryKind:        o.cfg.Directory.Kind,
		ExpirationThresholds: o.cfg.ExpirationThresholds,
		AuthEnabled:          len(o.cfg.Auth.Users) > 0,
	})
}
