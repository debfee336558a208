package server

import (
	"net/http"
	"strings"

	"github.com/ashita-ai/promptlab/internal/model"
)

// HandleChangelog handles GET /v1/changelog?since=<entry id>.
// A missing, malformed or unknown cursor returns the whole log.
func (h *Handlers) HandleChangelog(w http.ResponseWriter, r *http.Request) {
	since := strings.TrimSpace(r.URL.Query().Get("since"))
	entries, err := h.app.Changelog.Entries(r.Context(), since)
	if err != nil {
		h.writeServiceError(w, r, "changelog", err)
		return
	}
	latest, err := h.app.Changelog.LatestID(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "changelog", err)
		return
	}
	if entries == nil {
		entries = []model.ChangelogEntry{}
	}
	writeJSON(w, r, http.StatusOK, model.ChangelogResponse{Entries: entries, LatestID: latest})
}
