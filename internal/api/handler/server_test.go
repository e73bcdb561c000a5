package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vetle/fleet/internal/model"
)

func newServerHandler() *Server {
	return NewServer(nil, nil, nil)
}

// --- Create ---

func TestServerCreate_InvalidJSON(t *testing.T) {
	h := newServerHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/servers", "{bad json")

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestServerCreate_EmptyBody(t *testing.T) {
	h := newServerHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/servers", "")

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerCreate_MissingRequiredFields(t *testing.T) {
	h := newServerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/servers", map[string]any{})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestServerCreate_PortOutOfRange(t *testing.T) {
	h := newServerHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/servers", map[string]any{
		"name":       "web-1",
		"ip_address": "192.0.2.10",
		"port":       70000,
		"username":   "root",
		"password":   "hunter22",
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

// --- Get ---

func TestServerGet_MissingID(t *testing.T) {
	h := newServerHandler()
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/servers/", nil), "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

// --- RealtimePings ---

type fakeRecentPinger struct {
	limit int
	pings []model.ServerPing
}

func (f *fakeRecentPinger) RecentPings(_ context.Context, _ string, limit int) ([]model.ServerPing, error) {
	f.limit = limit
	return f.pings, nil
}

func TestServerRealtimePings_LimitParam(t *testing.T) {
	h := newServerHandler()
	fp := &fakeRecentPinger{pings: []model.ServerPing{{ID: "ping-1", ServerID: "srv-1"}}}
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/servers/srv-1/stats/realtime?limit=120", nil), "id", "srv-1")

	h.RealtimePings(fp)(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 120, fp.limit)
}

func TestServerRealtimePings_DefaultLimit(t *testing.T) {
	h := newServerHandler()
	fp := &fakeRecentPinger{}
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/servers/srv-1/stats/realtime", nil), "id", "srv-1")

	h.RealtimePings(fp)(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, fp.limit)
}

// --- UpdateAgentPort ---

func TestServerUpdateAgentPort_InvalidJSON(t *testing.T) {
	h := newServerHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPut, "/servers/srv-1/agent/port", "nope")
	r = withChiURLParam(r, "id", "srv-1")

	h.UpdateAgentPort(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
