// Package api is the HTTP surface of the fleet control plane.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vetle/fleet/internal/api/handler"
	mw "github.com/vetle/fleet/internal/api/middleware"
	"github.com/vetle/fleet/internal/config"
	"github.com/vetle/fleet/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services, cfg *config.Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Servers
		server := handler.NewServer(s.services.Servers, s.services.Provision, s.services.AgentCtl)
		r.Get("/servers", server.List)
		r.Post("/servers", server.Create)
		r.Get("/servers/{id}", server.Get)
		r.Put("/servers/{id}", server.Update)
		r.Delete("/servers/{id}", server.Delete)
		r.Post("/servers/{id}/retry-connection", server.RetryConnection)

		// Agent provisioning and configuration
		r.Post("/servers/{id}/agent/install", server.InstallAgent)
		r.Get("/servers/{id}/agent/config", server.GetAgentConfig)
		r.Put("/servers/{id}/agent/config", server.ConfigureAgent)
		r.Put("/servers/{id}/agent/port", server.UpdateAgentPort)
		r.Put("/servers/{id}/timezone", server.UpdateTimeZone)

		// Monitoring
		r.Get("/servers/{id}/stats", server.Stats(s.services.Monitoring))
		r.Get("/servers/{id}/stats/realtime", server.RealtimePings(s.services.Monitoring))

		// Server logs
		logs := handler.NewServerLogs(s.services.Logs)
		r.Get("/servers/{id}/logs", logs.List)
		r.Get("/servers/{id}/logs/content", logs.Read)
		r.Get("/servers/{id}/logs/stream", logs.Stream)

		// Control plane logs
		r.Get("/logs", logs.ListSystem)
		r.Get("/logs/content", logs.ReadSystem)

		// Accidents
		accident := handler.NewAccident(s.services.Accidents)
		r.Get("/accidents", accident.List)
		r.Post("/accidents/{id}/resolve", accident.Resolve)
		r.Delete("/accidents/{id}", accident.Delete)
		r.Post("/accidents/batch-delete", accident.BatchDelete)

		// Backup storages
		backupStorage := handler.NewBackupStorage(s.services.BackupStorages)
		r.Get("/backup-storages", backupStorage.List)
		r.Post("/backup-storages", backupStorage.Create)
		r.Get("/backup-storages/{id}", backupStorage.Get)
		r.Put("/backup-storages/{id}", backupStorage.Update)
		r.Delete("/backup-storages/{id}", backupStorage.Delete)

		// Databases
		database := handler.NewDatabase(s.services.Databases)
		r.Get("/databases", database.List)
		r.Post("/databases", database.Create)
		r.Get("/databases/{id}", database.Get)
		r.Delete("/databases/{id}", database.Delete)

		// Node graphs
		nodeGraph := handler.NewNodeGraph(s.services.NodeGraphs)
		r.Get("/node-graphs", nodeGraph.List)
		r.Post("/node-graphs", nodeGraph.Create)
		r.Get("/node-graphs/{id}", nodeGraph.Get)
		r.Put("/node-graphs/{id}", nodeGraph.Update)
		r.Delete("/node-graphs/{id}", nodeGraph.Delete)
		r.Post("/node-graphs/{id}/deploy", nodeGraph.Deploy)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(checks)
}
