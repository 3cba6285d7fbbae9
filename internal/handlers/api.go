package handlers

import (
	"net/http"

	"github.com/ternarybob/doceo/internal/common"
)

// HealthHandler handles GET /api/health. Liveness only; /api/status carries
// the detailed picture.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "doceo",
	})
}

// VersionHandler handles GET /api/version
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// NotFoundHandler answers unmatched API routes with a JSON 404 instead of
// the stdlib plain-text page.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
