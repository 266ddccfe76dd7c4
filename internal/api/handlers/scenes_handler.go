package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/arch-studio/engine/internal/api/middleware"
	"github.com/arch-studio/engine/internal/api/types"
	"github.com/arch-studio/engine/internal/services"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/utils"
)

// ScenesHandler serves the versioned scene history of a project.
type ScenesHandler struct {
	svc services.ProjectService
}

func NewScenesHandler(svc services.ProjectService) *ScenesHandler {
	return &ScenesHandler{svc: svc}
}

// Latest returns the newest scene. Clients polling it can send If-None-Match.
func (h *ScenesHandler) Latest(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	scene, err := h.svc.LatestScene(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeScene(w, r, scene)
}

func (h *ScenesHandler) Version(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	version, err := intParam(r, "version")
	if err != nil {
		writeError(w, r, err)
		return
	}
	scene, err := h.svc.GetSceneVersion(r.Context(), id, middleware.GetUserID(r.Context()), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeScene(w, r, scene)
}

func (h *ScenesHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.svc.ListSceneVersions(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, types.NewSceneVersionResponses(list))
}

func (h *ScenesHandler) writeScene(w http.ResponseWriter, r *http.Request, scene *services.Scene) {
	body, err := json.Marshal(types.APIResponse{Success: true, Data: types.NewSceneResponse(scene)})
	if err != nil {
		writeError(w, r, appErr.Wrap(err, appErr.CodeInternal, "encode scene failed"))
		return
	}
	etag := utils.ETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Scene-Version", strconv.Itoa(scene.Version))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
