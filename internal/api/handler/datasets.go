package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DatasetList is one page of datasets
type DatasetList struct {
	Results []*model.Dataset `json:"results"`
	Count   int              `json:"count"`
}

// ListDatasets lists datasets
// @Summary List datasets
// @Description Page through datasets, optionally filtered by status and owner
// @Tags datasets
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param owner query string false "Owner as type:id"
// @Param skip query int false "Datasets to skip"
// @Param size query int false "Page size (default 10)"
// @Param sort query string false "Sort key, '-' prefix for descending"
// @Success 200 {object} DatasetList
// @Failure 400 {object} map[string]string "Invalid parameters"
// @Router /datasets [get]
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := store.ListQuery{Sort: params.Get("sort")}
	var err error
	if q.Skip, err = intParam(r, "skip", 0); err != nil {
		badRequest(w, err.Error())
		return
	}
	if q.Limit, err = intParam(r, "size", 10); err != nil {
		badRequest(w, err.Error())
		return
	}
	if s := params.Get("status"); s != "" {
		for _, status := range strings.Split(s, ",") {
			st := model.Status(strings.TrimSpace(status))
			if !st.Valid() {
				badRequest(w, "unknown status "+status)
				return
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	if o := params.Get("owner"); o != "" {
		typ, id, ok := strings.Cut(o, ":")
		if !ok || id == "" {
			badRequest(w, "owner must be type:id")
			return
		}
		q.Owner = &model.Owner{Type: model.OwnerType(typ), ID: id}
	}

	datasets, count, err := h.Store.ListDatasets(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if datasets == nil {
		datasets = []*model.Dataset{}
	}
	writeJSON(w, http.StatusOK, DatasetList{Results: datasets, Count: count})
}

// CreateVirtualRequest is the body of a virtual dataset creation
type CreateVirtualRequest struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Owner       model.Owner       `json:"owner"`
	Virtual     model.VirtualSpec `json:"virtual"`
	Schema      []model.Field     `json:"schema"`
}

// CreateDataset creates a virtual dataset
// @Summary Create a virtual dataset
// @Description Create a dataset exposing the rows of its children. The schema is checked against the children.
// @Tags datasets
// @Accept json
// @Produce json
// @Param dataset body CreateVirtualRequest true "Virtual dataset"
// @Success 201 {object} model.Dataset
// @Failure 400 {object} map[string]string "Invalid dataset or schema"
// @Failure 409 {object} map[string]string "Id already used"
// @Router /datasets [post]
func (h *Handler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var req CreateVirtualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON payload")
		return
	}
	if req.Title == "" || req.Owner.ID == "" || req.Owner.Type == "" {
		badRequest(w, "title and owner are required")
		return
	}
	if len(req.Virtual.Children) == 0 {
		badRequest(w, "a virtual dataset needs at least one child")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	ctx := r.Context()
	schema, err := h.Resolver.PrepareSchema(ctx, req.Schema, req.Virtual)
	if err != nil {
		h.writeSchemaError(w, r, err)
		return
	}

	spec := req.Virtual
	d := &model.Dataset{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Owner:       req.Owner,
		Schema:      schema,
		Status:      model.StatusIndexed,
		IsVirtual:   true,
		Virtual:     &spec,
	}
	if err := h.Store.InsertDataset(ctx, d); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.emit(ctx, d.ID, model.EventDatasetCreated)
	writeJSON(w, http.StatusCreated, d)
}

// writeSchemaError answers a failed schema preparation; a missing child is
// a caller error there.
func (h *Handler) writeSchemaError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, model.ErrNotFound) {
		badRequest(w, err.Error())
		return
	}
	h.writeError(w, r, err)
}

// GetDataset returns one dataset
// @Summary Get dataset
// @Tags datasets
// @Produce json
// @Param id path string true "Dataset ID"
// @Success 200 {object} model.Dataset
// @Failure 404 {object} map[string]string "Dataset not found"
// @Router /datasets/{id} [get]
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// PatchDatasetRequest lists the editable parts of a dataset
type PatchDatasetRequest struct {
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Schema      []model.Field      `json:"schema"`
	Extensions  []model.Extension  `json:"extensions"`
	Virtual     *model.VirtualSpec `json:"virtual"`
}

// PatchDataset edits a dataset at rest
// @Summary Update dataset
// @Description Edit metadata, schema, extensions or children. Only allowed once processing is over (finalized or error). A dataset in error is processed again from the start; schema and extension changes trigger a new extension pass.
// @Tags datasets
// @Accept json
// @Produce json
// @Param id path string true "Dataset ID"
// @Param patch body PatchDatasetRequest true "Changes"
// @Success 200 {object} model.Dataset
// @Failure 400 {object} map[string]string "Invalid change"
// @Failure 404 {object} map[string]string "Dataset not found"
// @Failure 409 {object} map[string]string "Dataset is being processed"
// @Router /datasets/{id} [patch]
func (h *Handler) PatchDataset(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	var req PatchDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid JSON payload")
		return
	}
	if d.Status != model.StatusFinalized && d.Status != model.StatusError {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "dataset is being processed, status " + string(d.Status)})
		return
	}
	if req.Virtual != nil && !d.IsVirtual {
		badRequest(w, "virtual can only be set on a virtual dataset")
		return
	}
	if req.Extensions != nil && d.IsVirtual {
		badRequest(w, "extensions are not supported on a virtual dataset")
		return
	}

	ctx := r.Context()
	now := h.now()
	patch := &model.Patch{
		Title:       req.Title,
		Description: req.Description,
		Extensions:  req.Extensions,
		UpdatedAt:   &now,
	}
	if d.IsVirtual && (req.Schema != nil || req.Virtual != nil) {
		spec := *d.Virtual
		if req.Virtual != nil {
			spec = *req.Virtual
			patch.Virtual = &spec
		}
		candidate := req.Schema
		if candidate == nil {
			candidate = d.Schema
		}
		schema, err := h.Resolver.PrepareSchema(ctx, candidate, spec)
		if err != nil {
			h.writeSchemaError(w, r, err)
			return
		}
		patch.Schema = schema
		patch.Status = model.StatusIndexed
	} else if req.Schema != nil {
		schema, err := mergeSchemaEdit(d.Schema, req.Schema)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		patch.Schema = schema
		patch.Status = model.StatusSchematized
	}
	if req.Extensions != nil {
		patch.Status = model.StatusSchematized
	}
	if d.Status == model.StatusError && patch.Status == "" {
		patch.Status = model.StatusLoaded
		if d.IsVirtual {
			patch.Status = model.StatusIndexed
		}
	}

	updated, err := h.Store.PatchDataset(ctx, d.ID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// mergeSchemaEdit applies an edited schema of a physical dataset onto the
// stored one. The edit must list exactly the stored keys; only title,
// description and x-refersTo are taken from it, everything else is kept.
func mergeSchemaEdit(current, edited []model.Field) ([]model.Field, error) {
	byKey := make(map[string]model.Field, len(edited))
	for _, f := range edited {
		if _, dup := byKey[f.Key]; dup {
			return nil, errors.Errorf("duplicate field %s", f.Key)
		}
		cur, ok := model.FieldByKey(current, f.Key)
		if !ok {
			return nil, errors.Errorf("unknown field %s", f.Key)
		}
		if f.Type != "" && f.Type != cur.Type {
			return nil, errors.Errorf("type of field %s cannot be changed", f.Key)
		}
		if f.Format != "" && f.Format != cur.Format {
			return nil, errors.Errorf("format of field %s cannot be changed", f.Key)
		}
		byKey[f.Key] = f
	}
	out := model.CloneSchema(current)
	for i := range out {
		f, ok := byKey[out[i].Key]
		if !ok {
			return nil, errors.Errorf("field %s cannot be removed", out[i].Key)
		}
		out[i].Title = f.Title
		out[i].Description = f.Description
		out[i].RefersTo = f.RefersTo
	}
	return out, nil
}

// DeleteDataset deletes a dataset and its data
// @Summary Delete dataset
// @Description Remove the dataset document, its index and its files. Datasets used as children of a virtual dataset cannot be deleted.
// @Tags datasets
// @Param id path string true "Dataset ID"
// @Success 204
// @Failure 404 {object} map[string]string "Dataset not found"
// @Failure 409 {object} map[string]string "Dataset is a child of a virtual dataset"
// @Router /datasets/{id} [delete]
func (h *Handler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	parents, err := h.Store.Parents(ctx, d.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(parents) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "dataset is a child of virtual datasets", "parents": parents})
		return
	}
	if err := h.Store.DeleteDataset(ctx, d.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !d.IsVirtual {
		if err := h.Engine.DeleteAlias(ctx, d.ID); err != nil {
			h.Logger.ErrorContext(ctx, "failed to delete index", "dataset", d.ID, "error", err)
		}
		if err := h.Layout.Remove(d); err != nil {
			h.Logger.ErrorContext(ctx, "failed to delete files", "dataset", d.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
