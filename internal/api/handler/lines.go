package handler

import (
	"net/http"
	"strconv"
	"strings"

	"go-dataset-pipeline/internal/cache"
	"go-dataset-pipeline/internal/index"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/tiles"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

const (
	defaultTileSize = 1000
	defaultAggSize  = 20
	maxSize         = 10000
)

// searchQuery reads the common search parameters: q, select, sort, size,
// skip, bbox and <field>_in filters.
func searchQuery(r *http.Request, d *model.Dataset) (index.Query, error) {
	params := r.URL.Query()
	q := index.Query{Q: params.Get("q"), Sort: params.Get("sort")}
	var err error
	if q.Size, err = intParam(r, "size", 0); err != nil {
		return q, err
	}
	if q.Size > maxSize {
		return q, errors.Errorf("size cannot exceed %d", maxSize)
	}
	if q.Skip, err = intParam(r, "skip", 0); err != nil {
		return q, err
	}
	if s := params.Get("select"); s != "" {
		q.Select = strings.Split(s, ",")
	}
	if s := params.Get("bbox"); s != "" {
		if q.BBox, err = parseBBox(s); err != nil {
			return q, err
		}
	}
	for name, values := range params {
		key, ok := strings.CutSuffix(name, "_in")
		if !ok || len(values) == 0 {
			continue
		}
		if _, known := model.FieldByKey(d.Schema, key); !known {
			return q, errors.Errorf("unknown field %s", key)
		}
		if q.Filters == nil {
			q.Filters = map[string][]string{}
		}
		q.Filters[key] = strings.Split(values[0], ",")
	}
	if d.IsVirtual && d.Virtual != nil {
		for _, f := range d.Virtual.Filters {
			if q.Filters == nil {
				q.Filters = map[string][]string{}
			}
			q.Filters[f.Field] = f.Values
		}
	}
	return q, nil
}

func parseBBox(s string) (*model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, errors.Errorf("invalid bbox %q, expected minLon,minLat,maxLon,maxLat", s)
	}
	var b model.BBox
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Errorf("invalid bbox %q", s)
		}
		b[i] = f
	}
	return &b, nil
}

// GetLines searches the rows of a dataset
// @Summary Read dataset lines
// @Description Search the indexed rows. format=geojson returns features, format=mvt returns the vector tile given by xyz, served from the tile cache when possible.
// @Tags data
// @Produce json
// @Produce application/x-protobuf
// @Param id path string true "Dataset ID"
// @Param q query string false "Full text search"
// @Param select query string false "Comma separated fields"
// @Param sort query string false "Sort field, '-' prefix for descending"
// @Param size query int false "Page size"
// @Param skip query int false "Rows to skip"
// @Param bbox query string false "minLon,minLat,maxLon,maxLat"
// @Param format query string false "json, geojson or mvt"
// @Param xyz query string false "Tile coordinates x,y,z (mvt only)"
// @Success 200 {object} index.SearchResult
// @Success 204 "Empty tile"
// @Success 304 "Not modified since finalization"
// @Failure 400 {object} map[string]string "Invalid parameters"
// @Failure 404 {object} map[string]string "Dataset not found"
// @Failure 409 {object} map[string]string "Dataset not indexed yet"
// @Router /datasets/{id}/lines [get]
func (h *Handler) GetLines(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	if h.notModified(w, r, d) {
		return
	}
	q, err := searchQuery(r, d)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		h.searchJSON(w, r, d, q)
	case "geojson":
		h.searchGeoJSON(w, r, d, q)
	case "mvt", "vt", "pbf":
		h.searchTile(w, r, d, q)
	default:
		badRequest(w, "unknown format "+format)
	}
}

func (h *Handler) search(r *http.Request, d *model.Dataset, q index.Query) (*index.SearchResult, error) {
	targets, err := h.targets(r.Context(), d)
	if err != nil {
		return nil, err
	}
	return h.Engine.Search(r.Context(), targets, q)
}

func (h *Handler) searchJSON(w http.ResponseWriter, r *http.Request, d *model.Dataset, q index.Query) {
	res, err := h.search(r, d, q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func withGeoSelect(q index.Query) index.Query {
	if len(q.Select) > 0 {
		q.Select = append(q.Select, model.KeyGeoshape, model.KeyGeopoint)
	}
	return q
}

func (h *Handler) searchGeoJSON(w http.ResponseWriter, r *http.Request, d *model.Dataset, q index.Query) {
	res, err := h.search(r, d, withGeoSelect(q))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	targets, err := h.targets(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bbox, err := h.Engine.BBoxAgg(r.Context(), targets)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fc := tiles.FeatureCollection(res.Hits)
	if bbox != nil {
		fc.BBox = geojson.BBox(bbox[:])
	}
	writeJSON(w, http.StatusOK, fc)
}

func (h *Handler) searchTile(w http.ResponseWriter, r *http.Request, d *model.Dataset, q index.Query) {
	xyz := r.URL.Query().Get("xyz")
	if xyz == "" {
		badRequest(w, "xyz parameter is required for vector tile format")
		return
	}
	tile, err := tiles.ParseXYZ(xyz)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var hash string
	if h.Cache != nil {
		payload, hs, found, err := h.Cache.Get(cache.Key{
			Type:        "tile",
			DatasetID:   d.ID,
			FinalizedAt: d.FinalizedAt,
			Query:       r.URL.Query(),
		})
		if err != nil {
			h.Logger.WarnContext(r.Context(), "failed to read tile cache", "dataset", d.ID, "error", err)
		} else if found {
			writeTile(w, payload)
			return
		}
		hash = hs
	}

	q = withGeoSelect(q)
	if q.Size == 0 {
		q.Size = defaultTileSize
	}
	bound := tile.Bound()
	tb := model.BBox{bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()}
	if q.BBox == nil {
		q.BBox = &tb
	}
	res, err := h.search(r, d, q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := tiles.Render(res.Hits, tile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeTile(w, data)
	if h.Cache != nil && hash != "" {
		// the outcome is logged by the cache
		h.Cache.Set(hash, data)
	}
}

func writeTile(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ValuesAgg groups rows by the values of a field
// @Summary Values aggregation
// @Tags data
// @Produce json
// @Param id path string true "Dataset ID"
// @Param field query string true "Field key"
// @Param size query int false "Number of buckets (default 20)"
// @Success 200 {object} index.ValuesAgg
// @Failure 400 {object} map[string]string "Invalid parameters"
// @Failure 404 {object} map[string]string "Dataset not found"
// @Router /datasets/{id}/values_agg [get]
func (h *Handler) ValuesAgg(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	if h.notModified(w, r, d) {
		return
	}
	key := r.URL.Query().Get("field")
	field, known := model.FieldByKey(d.Schema, key)
	if !known {
		badRequest(w, "unknown field "+key)
		return
	}
	size, err := intParam(r, "size", defaultAggSize)
	if err != nil || size == 0 || size > maxSize {
		badRequest(w, "invalid size parameter")
		return
	}
	targets, err := h.targets(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.Engine.ValuesAgg(r.Context(), targets, field, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BBox returns the bounding box of the located rows
// @Summary Bounding box
// @Tags data
// @Produce json
// @Param id path string true "Dataset ID"
// @Success 200 {object} map[string]interface{} "bbox, null when no row is located"
// @Failure 404 {object} map[string]string "Dataset not found"
// @Router /datasets/{id}/bbox [get]
func (h *Handler) BBox(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dataset(w, r)
	if !ok {
		return
	}
	if h.notModified(w, r, d) {
		return
	}
	targets, err := h.targets(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bbox, err := h.Engine.BBoxAgg(r.Context(), targets)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bbox": bbox})
}
