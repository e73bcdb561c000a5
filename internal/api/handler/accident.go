package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vetle/fleet/internal/api/request"
	"github.com/vetle/fleet/internal/api/response"
	"github.com/vetle/fleet/internal/core"
)

type Accident struct {
	svc *core.AccidentService
}

func NewAccident(svc *core.AccidentService) *Accident {
	return &Accident{svc: svc}
}

func (h *Accident) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := core.AccidentFilters{ServerID: q.Get("server_id")}

	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid start_date")
			return
		}
		filters.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid end_date")
			return
		}
		filters.EndDate = &t
	}
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, "invalid resolved")
			return
		}
		filters.Resolved = &resolved
	}

	p := request.ParsePagination(r)
	page, err := h.svc.List(r.Context(), filters, p.Page, p.PageSize)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

func (h *Accident) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Resolve(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Accident) Delete(w http.ResponseWriter, r *http.Request) {
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

func (h *Accident) BatchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids" validate:"required,min=1"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.svc.BatchDelete(r.Context(), req.IDs)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
