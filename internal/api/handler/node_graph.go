package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vetle/fleet/internal/api/request"
	"github.com/vetle/fleet/internal/api/response"
	"github.com/vetle/fleet/internal/core"
	"github.com/vetle/fleet/internal/model"
)

type NodeGraph struct {
	svc *core.NodeGraphService
}

func NewNodeGraph(svc *core.NodeGraphService) *NodeGraph {
	return &NodeGraph{svc: svc}
}

func (h *NodeGraph) List(w http.ResponseWriter, r *http.Request) {
	graphs, err := h.svc.All(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, graphs)
}

func (h *NodeGraph) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string          `json:"name" validate:"required"`
		Nodes json.RawMessage `json:"nodes"`
		Edges json.RawMessage `json:"edges"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := h.svc.Create(r.Context(), &model.NodeGraph{
		Name:  req.Name,
		Nodes: req.Nodes,
		Edges: req.Edges,
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, g)
}

func (h *NodeGraph) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, g)
}

func (h *NodeGraph) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Name  string          `json:"name"`
		Nodes json.RawMessage `json:"nodes"`
		Edges json.RawMessage `json:"edges"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := h.svc.Update(r.Context(), id, &model.NodeGraph{
		Name:  req.Name,
		Nodes: req.Nodes,
		Edges: req.Edges,
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, g)
}

func (h *NodeGraph) Delete(w http.ResponseWriter, r *http.Request) {
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

func (h *NodeGraph) Deploy(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.Deploy(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, result)
}
