package tiles

import (
	"testing"

	"go-dataset-pipeline/internal/model"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXYZ(t *testing.T) {
	tile, err := ParseXYZ("1,2,3")
	require.NoError(t, err)
	assert.Equal(t, maptile.New(1, 2, 3), tile)

	for _, s := range []string{"", "1,2", "a,b,c", "8,0,3", "0,0,40"} {
		_, err := ParseXYZ(s)
		assert.Error(t, err, s)
	}
}

func TestFeatureCollection(t *testing.T) {
	hits := []map[string]any{
		{model.KeyGeopoint: "45,4.5", "name": "a", "n": 2.0, "nested": map[string]any{"x": 1}},
		{model.KeyGeoshape: map[string]any{"type": "LineString", "coordinates": []any{[]any{0.0, 0.0}, []any{1.0, 1.0}}}},
		{"name": "no location"},
	}
	fc := FeatureCollection(hits)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "Point", fc.Features[0].Geometry.GeoJSONType())
	assert.Equal(t, "a", fc.Features[0].Properties["name"])
	assert.NotContains(t, fc.Features[0].Properties, "nested")
	assert.NotContains(t, fc.Features[0].Properties, model.KeyGeopoint)
	assert.Equal(t, "LineString", fc.Features[1].Geometry.GeoJSONType())
}

func TestRender(t *testing.T) {
	hits := []map[string]any{{model.KeyGeopoint: "45,40", "name": "a"}}

	data, err := Render(hits, maptile.New(0, 0, 0))
	require.NoError(t, err)
	require.NotEmpty(t, data)
	layers, err := mvt.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, LayerName, layers[0].Name)
	assert.Len(t, layers[0].Features, 1)

	// the western hemisphere tile at zoom 1 does not contain the point
	data, err = Render(hits, maptile.New(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = Render(nil, maptile.New(0, 0, 0))
	require.NoError(t, err)
	assert.Nil(t, data)
}
