// Package tiles renders search hits as Mapbox vector tiles.
package tiles

import (
	"encoding/json"
	"strconv"
	"strings"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/pkg/utils"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

// LayerName is the name of the single layer of rendered tiles.
const LayerName = "results"

// ParseXYZ parses the "x,y,z" tile coordinates of a request.
func ParseXYZ(s string) (maptile.Tile, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return maptile.Tile{}, errors.Errorf("invalid tile coordinates %q, expected x,y,z", s)
	}
	var nums [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return maptile.Tile{}, errors.Wrapf(err, "invalid tile coordinates %q", s)
		}
		nums[i] = n
	}
	if nums[2] > 24 {
		return maptile.Tile{}, errors.Errorf("invalid zoom level %d", nums[2])
	}
	t := maptile.New(uint32(nums[0]), uint32(nums[1]), maptile.Zoom(nums[2]))
	if !t.Valid() {
		return maptile.Tile{}, errors.Errorf("tile %s out of range", s)
	}
	return t, nil
}

// FeatureCollection converts search hits to GeoJSON features. Hits without
// a calculated geometry or point are left out.
func FeatureCollection(hits []map[string]any) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, hit := range hits {
		g := hitGeometry(hit)
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		for k, v := range hit {
			if k == model.KeyGeoshape || k == model.KeyGeopoint {
				continue
			}
			switch v.(type) {
			case string, bool, float64, float32, int, int64, uint64:
				f.Properties[k] = v
			}
		}
		fc.Append(f)
	}
	return fc
}

func hitGeometry(hit map[string]any) orb.Geometry {
	if shape, ok := hit[model.KeyGeoshape]; ok && shape != nil {
		data, err := json.Marshal(shape)
		if err == nil {
			if g, err := geojson.UnmarshalGeometry(data); err == nil && g.Coordinates != nil {
				return g.Geometry()
			}
		}
	}
	if s, ok := hit[model.KeyGeopoint].(string); ok {
		if lat, lon, ok := utils.ParseLatLon(s); ok {
			return orb.Point{lon, lat}
		}
	}
	return nil
}

// Render encodes the hits falling in tile. It returns nil when nothing
// is left to draw.
func Render(hits []map[string]any, tile maptile.Tile) ([]byte, error) {
	fc := FeatureCollection(hits)
	if len(fc.Features) == 0 {
		return nil, nil
	}
	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{LayerName: fc})
	layers.ProjectToTile(tile)
	layers.Clip(mvt.MapboxGLDefaultExtentBound)
	layers.RemoveEmpty(0, 0)
	if len(layers) == 0 || len(layers[0].Features) == 0 {
		return nil, nil
	}
	data, err := mvt.Marshal(layers)
	if err != nil {
		return nil, errors.Wrap(err, "encoding vector tile")
	}
	return data, nil
}
