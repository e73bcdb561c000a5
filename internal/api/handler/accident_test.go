package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccidentList_InvalidStartDate(t *testing.T) {
	h := NewAccident(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/accidents?start_date=yesterday", nil)

	h.List(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid start_date")
}

func TestAccidentList_InvalidResolved(t *testing.T) {
	h := NewAccident(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/accidents?resolved=maybe", nil)

	h.List(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid resolved")
}

func TestAccidentResolve_MissingID(t *testing.T) {
	h := NewAccident(nil)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/accidents//resolve", nil), "id", "")

	h.Resolve(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccidentBatchDelete_EmptyIDs(t *testing.T) {
	h := NewAccident(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/accidents/batch-delete", map[string]any{"ids": []string{}})

	h.BatchDelete(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestAccidentBatchDelete_InvalidJSON(t *testing.T) {
	h := NewAccident(nil)
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/accidents/batch-delete", "[")

	h.BatchDelete(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
