package server

import (
	"net/http"
	"strconv"

	"github.com/ashita-ai/promptlab/internal/app"
	"github.com/ashita-ai/promptlab/internal/model"
)

// HandleRunTest handles POST /v1/test-cases/{id}/run.
// The response is sent once the run is terminal.
func (h *Handlers) HandleRunTest(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	result, err := h.app.Runner.RunTest(r.Context(), id, SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "test case", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleRunAll handles POST /v1/run-all.
func (h *Handlers) HandleRunAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Runner.RunAll(r.Context(), SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "test cases", err)
		return
	}
	writeJSON(w, r, http.StatusOK, app.Summary(results))
}

// HandleLatestResult handles GET /v1/test-cases/{id}/result.
func (h *Handlers) HandleLatestResult(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	view, err := h.app.Runner.Latest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "result", err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// HandleResultHistory handles GET /v1/test-cases/{id}/results?limit=N.
func (h *Handlers) HandleResultHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	views, err := h.app.Runner.History(r.Context(), id, queryLimit(r, 50))
	if err != nil {
		h.writeServiceError(w, r, "test case", err)
		return
	}
	if views == nil {
		views = []model.ResultView{}
	}
	writeJSON(w, r, http.StatusOK, views)
}

// HandleGetResult handles GET /v1/results/{id}.
func (h *Handlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	view, err := h.app.Runner.Result(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "result", err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// HandleGetImage handles GET /v1/images/{id}. The body is the raw image.
func (h *Handlers) HandleGetImage(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	img, err := h.app.Runner.Image(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "image", err)
		return
	}
	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	// Images are immutable once stored.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}
