package pipeline

import (
	"encoding/json"
	"strconv"

	"go-dataset-pipeline/internal/index"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/pkg/utils"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CalculatedFields returns the function computing _geopoint and _geoshape
// of an indexed row from the geographic fields of its schema. Rows without
// a valid location get no calculated field and no bounds.
func CalculatedFields(geo model.GeoFields) index.CalculateFunc {
	return func(src map[string]any) (*model.BBox, error) {
		delete(src, model.KeyGeopoint)
		delete(src, model.KeyGeoshape)

		if geo.HasGeometry() {
			if g, ok := parseGeometry(src[geo.Geometry]); ok {
				b := g.Bound()
				c := b.Center()
				src[model.KeyGeoshape] = geojson.NewGeometry(g)
				src[model.KeyGeopoint] = formatLatLon(c.Lat(), c.Lon())
				return &model.BBox{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}, nil
			}
		}
		if geo.HasGeopoint() {
			if lat, lon, ok := rowPoint(src, geo); ok {
				src[model.KeyGeopoint] = formatLatLon(lat, lon)
				return &model.BBox{lon, lat, lon, lat}, nil
			}
		}
		return nil, nil
	}
}

func formatLatLon(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

func rowPoint(src map[string]any, geo model.GeoFields) (float64, float64, bool) {
	if geo.LatLong != "" {
		if s, ok := src[geo.LatLong].(string); ok {
			return utils.ParseLatLon(s)
		}
		return 0, 0, false
	}
	lat, ok1 := utils.Numeric(src[geo.Lat])
	lon, ok2 := utils.Numeric(src[geo.Lon])
	return lat, lon, ok1 && ok2 && utils.ValidLatLon(lat, lon)
}

// parseGeometry reads a GeoJSON geometry held as a string or as an
// already decoded object.
func parseGeometry(v any) (orb.Geometry, bool) {
	var data []byte
	switch x := v.(type) {
	case nil:
		return nil, false
	case string:
		data = []byte(x)
	default:
		var err error
		if data, err = json.Marshal(x); err != nil {
			return nil, false
		}
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil || g.Coordinates == nil {
		return nil, false
	}
	return g.Geometry(), true
}
