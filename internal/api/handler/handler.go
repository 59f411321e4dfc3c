// Package handler implements the HTTP endpoints of the dataset API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go-dataset-pipeline/internal/cache"
	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/events"
	"go-dataset-pipeline/internal/index"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"
	"go-dataset-pipeline/pkg/router"

	"github.com/pkg/errors"
)

// Store is the part of the document store used by the API.
type Store interface {
	InsertDataset(ctx context.Context, d *model.Dataset) error
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	ListDatasets(ctx context.Context, q store.ListQuery) ([]*model.Dataset, int, error)
	PatchDataset(ctx context.Context, id string, p *model.Patch) (*model.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
	Parents(ctx context.Context, id string) ([]string, error)
	PutRemoteService(ctx context.Context, svc *model.RemoteService) error
	GetRemoteService(ctx context.Context, id string) (*model.RemoteService, error)
	ListRemoteServices(ctx context.Context) ([]*model.RemoteService, error)
}

// Resolver prepares virtual dataset schemas and query scopes.
type Resolver interface {
	PrepareSchema(ctx context.Context, candidate []model.Field, spec model.VirtualSpec) ([]model.Field, error)
	ResolveDescendants(ctx context.Context, d *model.Dataset) ([]string, error)
}

// Handler holds the dependencies of the endpoints.
type Handler struct {
	Store    Store
	Engine   index.Engine
	Resolver Resolver
	Cache    *cache.Cache // optional
	Layout   datafile.Layout
	Emitter  events.Emitter
	Logger   *slog.Logger

	// PublicMaxAge is the Cache-Control max-age of finalized data reads
	PublicMaxAge time.Duration
	Now          func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code. Unexpected errors are logged and
// their message is not sent.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict), errors.Is(err, index.ErrNoIndex):
		status = http.StatusConflict
	case model.IsValidation(err):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (h *Handler) dataset(w http.ResponseWriter, r *http.Request) (*model.Dataset, bool) {
	d, err := h.Store.GetDataset(r.Context(), router.Param(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return d, true
}

// targets returns the physical datasets queried for d.
func (h *Handler) targets(ctx context.Context, d *model.Dataset) ([]string, error) {
	if !d.IsVirtual {
		return []string{d.ID}, nil
	}
	return h.Resolver.ResolveDescendants(ctx, d)
}

// notModified sets the public cache headers of finalized data and reports
// whether the client copy is still current.
func (h *Handler) notModified(w http.ResponseWriter, r *http.Request, d *model.Dataset) bool {
	if d.FinalizedAt == nil {
		return false
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.PublicMaxAge.Seconds())))
	lastModified := d.FinalizedAt.UTC().Format(http.TimeFormat)
	if since := r.Header.Get("If-Modified-Since"); since != "" && since == lastModified {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	w.Header().Set("Last-Modified", lastModified)
	return false
}

func (h *Handler) emit(ctx context.Context, datasetID, typ string) {
	if h.Emitter == nil {
		return
	}
	ev := model.Event{DatasetID: datasetID, Type: typ, Date: h.now()}
	if err := h.Emitter.Emit(ctx, ev); err != nil {
		h.Logger.WarnContext(ctx, "failed to emit event", "dataset", datasetID, "type", typ, "error", err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid %s parameter %q", name, s)
	}
	return n, nil
}
