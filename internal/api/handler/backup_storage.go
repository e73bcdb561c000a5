package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vetle/fleet/internal/api/request"
	"github.com/vetle/fleet/internal/api/response"
	"github.com/vetle/fleet/internal/core"
	"github.com/vetle/fleet/internal/model"
)

type BackupStorage struct {
	svc *core.BackupStorageService
}

func NewBackupStorage(svc *core.BackupStorageService) *BackupStorage {
	return &BackupStorage{svc: svc}
}

func (h *BackupStorage) List(w http.ResponseWriter, r *http.Request) {
	storages, err := h.svc.All(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, storages)
}

func (h *BackupStorage) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name" validate:"required"`
		Endpoint  string `json:"endpoint" validate:"required"`
		Region    string `json:"region"`
		Bucket    string `json:"bucket" validate:"required"`
		AccessKey string `json:"access_key" validate:"required"`
		SecretKey string `json:"secret_key" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	bs, err := h.svc.Create(r.Context(), &model.BackupStorage{
		Name:      req.Name,
		Endpoint:  req.Endpoint,
		Region:    req.Region,
		Bucket:    req.Bucket,
		AccessKey: req.AccessKey,
		SecretKey: req.SecretKey,
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, bs)
}

func (h *BackupStorage) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	bs, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, bs)
}

func (h *BackupStorage) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Name      string `json:"name"`
		Endpoint  string `json:"endpoint"`
		Region    string `json:"region"`
		Bucket    string `json:"bucket"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	bs, err := h.svc.Update(r.Context(), id, &model.BackupStorage{
		Name:      req.Name,
		Endpoint:  req.Endpoint,
		Region:    req.Region,
		Bucket:    req.Bucket,
		AccessKey: req.AccessKey,
		SecretKey: req.SecretKey,
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, bs)
}

func (h *BackupStorage) Delete(w http.ResponseWriter, r *http.Request) {
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
