package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vetle/fleet/internal/api/request"
	"github.com/vetle/fleet/internal/api/response"
	"github.com/vetle/fleet/internal/core"
	"github.com/vetle/fleet/internal/model"
)

type Database struct {
	svc *core.DatabaseService
}

func NewDatabase(svc *core.DatabaseService) *Database {
	return &Database{svc: svc}
}

func (h *Database) List(w http.ResponseWriter, r *http.Request) {
	dbs, err := h.svc.All(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, dbs)
}

func (h *Database) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name" validate:"required"`
		User     string `json:"user" validate:"required"`
		Password string `json:"password" validate:"required,min=8"`
		DBName   string `json:"db_name" validate:"required"`
		Branch   string `json:"branch"`
		ServerID string `json:"server_id" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.svc.Create(r.Context(), &model.Database{
		Name:     req.Name,
		User:     req.User,
		Password: req.Password,
		DBName:   req.DBName,
		Branch:   req.Branch,
		ServerID: req.ServerID,
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, d)
}

func (h *Database) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, d)
}

func (h *Database) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
