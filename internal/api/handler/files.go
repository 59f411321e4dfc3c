package handler

import (
	"mime"
	"net/http"
	"path/filepath"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/pkg/utils"
)

// maxUploadMemory is the part of a multipart upload kept in memory, the
// rest is spooled to disk.
const maxUploadMemory = 32 << 20

// ReplaceData swaps the data file of a dataset
// @Summary Replace dataset data
// @Description Upload a new data file. Only allowed once processing is over (finalized or error); the dataset is then processed again from the start.
// @Tags datasets
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Dataset ID"
// @Param file formData file true "New data file"
// @Success 200 {object} model.Dataset
// @Failure 400 {object} map[string]string "Missing file or dataset without data file"
// @Failure 404 {object} map[string]string "Dataset not found"
// @Failure 409 {object} map[string]string "Dataset is being processed"
// @Router /datasets/{id} [post]
func (h *Handler) ReplaceData(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	if err := d.CheckReplaceable(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(w, "Invalid multipart payload")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()

	ctx := r.Context()
	f, err := h.Layout.WriteOriginal(d, header.Filename, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.Store.PatchDataset(ctx, d.ID, model.ReplaceFilePatch(f, h.now(), "api"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.emit(ctx, d.ID, model.EventDataUpdated)
	h.Logger.InfoContext(ctx, "dataset data replaced", "dataset", d.ID, "file", f.Name, "size", f.Size)
	writeJSON(w, http.StatusOK, updated)
}

// DownloadRaw returns the data file as uploaded
// @Summary Download raw file
// @Tags data
// @Produce octet-stream
// @Param id path string true "Dataset ID"
// @Success 200 {file} file
// @Failure 404 {object} map[string]string "Dataset or file not found"
// @Router /datasets/{id}/raw [get]
func (h *Handler) DownloadRaw(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	if d.File == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset has no data file"})
		return
	}
	h.serveFile(w, r, h.Layout.Original(d), d.File.Name)
}

// DownloadFull returns the rows with their extension columns
// @Summary Download extended file
// @Description The extended rows as newline delimited JSON, or the raw file when no extension ran.
// @Tags data
// @Produce octet-stream
// @Param id path string true "Dataset ID"
// @Success 200 {file} file
// @Failure 404 {object} map[string]string "Dataset or file not found"
// @Router /datasets/{id}/full [get]
func (h *Handler) DownloadFull(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	if h.Layout.HasFull(d) {
		h.serveFile(w, r, h.Layout.Full(d), d.ID+"-full.ndjson")
		return
	}
	if d.File == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dataset has no data file"})
		return
	}
	h.serveFile(w, r, h.Layout.Original(d), d.File.Name)
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, path, name string) {
	if !utils.FileExists(path) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	w.Header().Set("Content-Type", utils.GetMimeType(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(name)}))
	http.ServeFile(w, r, path)
}
