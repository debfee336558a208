package server

import (
	"net/http"

	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/testcases"
)

// HandleListTestCases handles GET /v1/test-cases.
// List entries carry a preview of the input text.
func (h *Handlers) HandleListTestCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.app.TestCases.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "test cases", err)
		return
	}
	writeJSON(w, r, http.StatusOK, testcases.Summaries(cases))
}

// HandleListDeletedTestCases handles GET /v1/test-cases/deleted.
func (h *Handlers) HandleListDeletedTestCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.app.TestCases.ListDeleted(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "test cases", err)
		return
	}
	writeJSON(w, r, http.StatusOK, testcases.Summaries(cases))
}

// HandleCreateTestCase handles POST /v1/test-cases.
func (h *Handlers) HandleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTestCaseRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	tc, err := h.app.TestCases.Create(r.Context(), req, SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "test case", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, tc)
}

// HandleGetTestCase handles GET /v1/test-cases/{id}.
func (h *Handlers) HandleGetTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	tc, err := h.app.TestCases.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "test case", err)
		return
	}
	writeJSON(w, r, http.StatusOK, tc)
}

// HandleUpdateTestCase handles PUT /v1/test-cases/{id}.
func (h *Handlers) HandleUpdateTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.UpdateTestCaseRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	tc, err := h.app.TestCases.Update(r.Context(), id, req, SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "test case", err)
		return
	}
	writeJSON(w, r, http.StatusOK, tc)
}

// HandleDeleteTestCase handles DELETE /v1/test-cases/{id}.
// With ?permanent=true the test case is purged instead of gravestoned.
func (h *Handlers) HandleDeleteTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	source := SourceFromContext(r.Context())

	if queryBool(r, "permanent") {
		if err := h.app.TestCases.Purge(r.Context(), id, source); err != nil {
			h.writeServiceError(w, r, "test case", err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "purged": true})
		return
	}

	tc, err := h.app.TestCases.Delete(r.Context(), id, source)
	if err != nil {
		h.writeServiceError(w, r, "test case", err)
		return
	}
	writeJSON(w, r, http.StatusOK, tc)
}

// HandleRestoreTestCase handles POST /v1/test-cases/{id}/restore.
func (h *Handlers) HandleRestoreTestCase(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	tc, err := h.app.TestCases.Restore(r.Context(), id, SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "test case", err)
		return
	}
	writeJSON(w, r, http.StatusOK, tc)
}
