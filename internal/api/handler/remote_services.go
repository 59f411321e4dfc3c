package handler

import (
	"encoding/json"
	"net/http"
	"net/url"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/pkg/router"
)

// public hides the API key value of a remote service
func public(svc *model.RemoteService) *model.RemoteService {
	out := *svc
	out.APIKey.Value = ""
	return &out
}

// ListRemoteServices lists the enrichment services
// @Summary List remote services
// @Tags remote-services
// @Produce json
// @Success 200 {array} model.RemoteService
// @Router /remote-services [get]
func (h *Handler) ListRemoteServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Store.ListRemoteServices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]*model.RemoteService, len(services))
	for i, svc := range services {
		out[i] = public(svc)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRemoteService returns one enrichment service
// @Summary Get remote service
// @Tags remote-services
// @Produce json
// @Param id path string true "Remote service ID"
// @Success 200 {object} model.RemoteService
// @Failure 404 {object} map[string]string "Remote service not found"
// @Router /remote-services/{id} [get]
func (h *Handler) GetRemoteService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.Store.GetRemoteService(r.Context(), router.Param(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, public(svc))
}

// PutRemoteService registers or replaces an enrichment service
// @Summary Register remote service
// @Tags remote-services
// @Accept json
// @Produce json
// @Param service body model.RemoteService true "Remote service"
// @Success 201 {object} model.RemoteService
// @Failure 400 {object} map[string]string "Invalid remote service"
// @Router /remote-services [post]
func (h *Handler) PutRemoteService(w http.ResponseWriter, r *http.Request) {
	var svc model.RemoteService
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		badRequest(w, "Invalid JSON payload")
		return
	}
	if msg := validateRemoteService(&svc); msg != "" {
		badRequest(w, msg)
		return
	}
	if err := h.Store.PutRemoteService(r.Context(), &svc); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, public(&svc))
}

// ReplaceRemoteService registers or replaces the enrichment service at id
// @Summary Replace remote service
// @Tags remote-services
// @Accept json
// @Produce json
// @Param id path string true "Remote service ID"
// @Param service body model.RemoteService true "Remote service"
// @Success 200 {object} model.RemoteService
// @Failure 400 {object} map[string]string "Invalid remote service"
// @Router /remote-services/{id} [put]
func (h *Handler) ReplaceRemoteService(w http.ResponseWriter, r *http.Request) {
	var svc model.RemoteService
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		badRequest(w, "Invalid JSON payload")
		return
	}
	id := router.Param(r, "id")
	if svc.ID == "" {
		svc.ID = id
	}
	if svc.ID != id {
		badRequest(w, "id does not match the path")
		return
	}
	if msg := validateRemoteService(&svc); msg != "" {
		badRequest(w, msg)
		return
	}
	if err := h.Store.PutRemoteService(r.Context(), &svc); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, public(&svc))
}

func validateRemoteService(svc *model.RemoteService) string {
	if svc.ID == "" {
		return "id is required"
	}
	u, err := url.Parse(svc.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "server must be an http(s) URL"
	}
	if svc.APIKey.In != "" && svc.APIKey.In != "header" {
		return "apiKey.in must be header"
	}
	seen := map[string]bool{}
	for _, a := range svc.Actions {
		if a.ID == "" || seen[a.ID] {
			return "action ids must be set and unique"
		}
		seen[a.ID] = true
		if len(a.Output) == 0 {
			return "action " + a.ID + " has no output"
		}
	}
	return ""
}
