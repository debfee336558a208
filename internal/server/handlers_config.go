package server

import (
	"net/http"

	"github.com/ashita-ai/promptlab/internal/model"
)

// HandleGetConfig handles GET /v1/config.
func (h *Handlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Enhancer.Current(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "config", err)
		return
	}
	writeJSON(w, r, http.StatusOK, cfg)
}

// HandleUpdateConfig handles PUT /v1/config.
func (h *Handlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateConfigRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	cfg, err := h.app.Enhancer.Update(r.Context(), req, SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "config", err)
		return
	}
	writeJSON(w, r, http.StatusOK, cfg)
}

// HandleListVersions handles GET /v1/config/versions.
func (h *Handlers) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.app.Enhancer.History(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "config history", err)
		return
	}
	if versions == nil {
		versions = []model.ConfigVersion{}
	}
	writeJSON(w, r, http.StatusOK, versions)
}

// HandleGetVersion handles GET /v1/config/versions/{version}.
func (h *Handlers) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	v, err := h.app.Enhancer.Version(r.Context(), version)
	if err != nil {
		h.writeServiceError(w, r, "config version", err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

// HandleRenameVersion handles PATCH /v1/config/versions/{version}.
func (h *Handlers) HandleRenameVersion(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.RenameVersionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	v, err := h.app.Enhancer.RenameVersion(r.Context(), version, req, SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "config version", err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

// HandleRevertVersion handles POST /v1/config/versions/{version}/revert.
func (h *Handlers) HandleRevertVersion(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	cfg, err := h.app.Enhancer.Revert(r.Context(), version, SourceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "config version", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, cfg)
}
