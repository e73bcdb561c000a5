package handler

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vetle/fleet/internal/api/request"
	"github.com/vetle/fleet/internal/api/response"
	"github.com/vetle/fleet/internal/core"
)

// ServerLogs serves the per-server log files, both paginated reads and a live
// websocket tail of the install log.
type ServerLogs struct {
	logs *core.LogService
}

func NewServerLogs(logs *core.LogService) *ServerLogs {
	return &ServerLogs{logs: logs}
}

func (h *ServerLogs) List(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := h.logs.List(id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, files)
}

func (h *ServerLogs) Read(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := request.ParsePagination(r)
	page, err := h.logs.Read(id, r.URL.Query().Get("file"), p.Page, p.PageSize)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

// ListSystem lists the control plane's own log files.
func (h *ServerLogs) ListSystem(w http.ResponseWriter, r *http.Request) {
	files, err := h.logs.ListSystem()
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, files)
}

// ReadSystem returns one page of a control plane log file.
func (h *ServerLogs) ReadSystem(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)
	page, err := h.logs.ReadSystem(r.URL.Query().Get("file"), p.Page, p.PageSize)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

// Stream tails the server's install log over a websocket, sending new lines
// as they are written. Used by the UI to follow an install in progress.
func (h *ServerLogs) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := h.logs.TailPath(id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	log := zerolog.Ctx(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	var offset int64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		chunk, next, err := readFrom(path, offset)
		if err != nil {
			ws.Close(websocket.StatusInternalError, err.Error())
			return
		}
		offset = next
		if len(chunk) > 0 {
			if err := ws.Write(ctx, websocket.MessageText, chunk); err != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readFrom returns the file's content past offset. A missing file is not an
// error: the install may not have produced output yet. A shrunken file means
// rotation happened and reading restarts from the top.
func readFrom(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, err
	}
	return chunk, offset + int64(len(chunk)), nil
}
