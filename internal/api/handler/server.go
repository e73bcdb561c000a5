package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vetle/fleet/internal/api/request"
	"github.com/vetle/fleet/internal/api/response"
	"github.com/vetle/fleet/internal/core"
	"github.com/vetle/fleet/internal/model"
)

type Server struct {
	servers   *core.ServerService
	provision *core.ProvisionService
	agentCtl  *core.AgentCtlService
}

func NewServer(servers *core.ServerService, provision *core.ProvisionService, agentCtl *core.AgentCtlService) *Server {
	return &Server{servers: servers, provision: provision, agentCtl: agentCtl}
}

func (h *Server) List(w http.ResponseWriter, r *http.Request) {
	servers, err := h.servers.All(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, servers)
}

func (h *Server) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string  `json:"name" validate:"required"`
		IPAddress string  `json:"ip_address" validate:"required"`
		Port      int     `json:"port" validate:"omitempty,min=1,max=65535"`
		Username  string  `json:"username" validate:"required"`
		Password  *string `json:"password"`
		SSHKey    *string `json:"ssh_key"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	srv := &model.Server{
		Name:      req.Name,
		IPAddress: req.IPAddress,
		Port:      req.Port,
		Credential: model.Credential{
			Username: req.Username,
			Password: req.Password,
			SSHKey:   req.SSHKey,
		},
	}

	created, warning, err := h.servers.Create(r.Context(), srv)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteWithWarning(w, http.StatusCreated, created, warning)
}

func (h *Server) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	srv, err := h.servers.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, srv)
}

func (h *Server) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Name      string  `json:"name"`
		IPAddress string  `json:"ip_address"`
		Port      int     `json:"port" validate:"omitempty,min=1,max=65535"`
		Username  string  `json:"username"`
		Password  *string `json:"password"`
		SSHKey    *string `json:"ssh_key"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	upd := &model.Server{
		Name:      req.Name,
		IPAddress: req.IPAddress,
		Port:      req.Port,
		Credential: model.Credential{
			Username: req.Username,
			Password: req.Password,
			SSHKey:   req.SSHKey,
		},
	}

	srv, warning, err := h.servers.Update(r.Context(), id, upd)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteWithWarning(w, http.StatusOK, srv, warning)
}

func (h *Server) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.servers.Delete(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Server) RetryConnection(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	srv, warning, err := h.servers.RetryConnection(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteWithWarning(w, http.StatusOK, srv, warning)
}

func (h *Server) InstallAgent(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	srv, err := h.provision.InstallAgent(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, srv)
}

func (h *Server) GetAgentConfig(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := h.agentCtl.GetConfig(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, cfg)
}

func (h *Server) UpdateAgentPort(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Port int `json:"port" validate:"required,min=1,max=65535"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	srv, err := h.agentCtl.UpdatePort(r.Context(), id, req.Port)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, srv)
}

func (h *Server) UpdateTimeZone(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		TimeZone string `json:"timezone" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.agentCtl.UpdateTimeZone(r.Context(), id, req.TimeZone); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"timezone": req.TimeZone})
}

func (h *Server) ConfigureAgent(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Config string `json:"config" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.agentCtl.Configure(r.Context(), id, req.Config); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats serves the aggregated monitoring windows for a server.
func (h *Server) Stats(monitoring *core.MonitoringService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := request.RequireID(chi.URLParam(r, "id"))
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit := parseLimit(r, 100)
		stats, err := monitoring.StatsByServer(r.Context(), id, limit)
		if err != nil {
			response.WriteServiceError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, stats)
	}
}

// recentPinger is the slice of the monitoring service the realtime endpoint
// needs.
type recentPinger interface {
	RecentPings(ctx context.Context, serverID string, limit int) ([]model.ServerPing, error)
}

// RealtimePings serves the most recent pings for live charts, oldest first.
func (h *Server) RealtimePings(monitoring recentPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := request.RequireID(chi.URLParam(r, "id"))
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		pings, err := monitoring.RecentPings(r.Context(), id, parseLimit(r, 50))
		if err != nil {
			response.WriteServiceError(w, err)
			return
		}
		response.WriteJSON(w, http.StatusOK, pings)
	}
}

func parseLimit(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
