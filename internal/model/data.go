package model

// Semantic concepts with special handling in the pipeline
const (
	ConceptLatLong     = "http://www.w3.org/2003/01/geo/wgs84_pos#lat_long"
	ConceptLatitude    = "http://schema.org/latitude"
	ConceptLongitude   = "http://schema.org/longitude"
	ConceptGeometry    = "https://purl.org/geojson/vocab#geometry"
	ConceptDigitalDoc  = "http://schema.org/DigitalDocument"
	ConceptDescription = "http://schema.org/description"
)

// Field types
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Field formats
const (
	FormatDate         = "date"
	FormatDateTime     = "date-time"
	FormatURIReference = "uri-reference"
)

// Calculated field keys added by the indexer and finalizer
const (
	KeyLine     = "_i"
	KeyRand     = "_rand"
	KeyGeopoint = "_geopoint"
	KeyGeoshape = "_geoshape"
)

// Field is one column of a dataset schema
type Field struct {
	Key          string `json:"key"`
	Type         string `json:"type,omitempty"`
	Format       string `json:"format,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	RefersTo     string `json:"x-refersTo,omitempty"`
	OriginalName string `json:"x-originalName,omitempty"`
	Cardinality  int64  `json:"x-cardinality,omitempty"`
	Enum         []any  `json:"enum,omitempty"`
	Extension    string `json:"x-extension,omitempty"`
	Calculated   bool   `json:"x-calculated,omitempty"`
}

// IsGeometry reports whether the field holds GeoJSON geometries
func (f Field) IsGeometry() bool {
	return f.RefersTo == ConceptGeometry
}

// CloneSchema copies a schema so the copy can be modified without aliasing.
func CloneSchema(schema []Field) []Field {
	if schema == nil {
		return nil
	}
	out := make([]Field, len(schema))
	for i, f := range schema {
		f.Enum = append([]any(nil), f.Enum...)
		if len(f.Enum) == 0 {
			f.Enum = nil
		}
		out[i] = f
	}
	return out
}

// FieldByKey returns the field with the given key
func FieldByKey(schema []Field, key string) (Field, bool) {
	for _, f := range schema {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// GeoFields describes how rows of a dataset carry location
type GeoFields struct {
	LatLong  string
	Lat      string
	Lon      string
	Geometry string
}

// HasGeopoint reports whether rows carry a point position
func (g GeoFields) HasGeopoint() bool {
	return g.LatLong != "" || (g.Lat != "" && g.Lon != "")
}

// HasGeometry reports whether rows carry a GeoJSON geometry
func (g GeoFields) HasGeometry() bool {
	return g.Geometry != ""
}

// Any reports whether the schema has any geographic field
func (g GeoFields) Any() bool {
	return g.HasGeopoint() || g.HasGeometry()
}

// SchemaGeoFields finds the geographic fields of a schema by concept.
func SchemaGeoFields(schema []Field) GeoFields {
	var g GeoFields
	for _, f := range schema {
		if f.Calculated {
			continue
		}
		switch f.RefersTo {
		case ConceptLatLong:
			g.LatLong = f.Key
		case ConceptLatitude:
			g.Lat = f.Key
		case ConceptLongitude:
			g.Lon = f.Key
		case ConceptGeometry:
			g.Geometry = f.Key
		}
	}
	return g
}

// ExtendedSchema returns schema with the calculated fields appended for
// the geographic capabilities of the dataset. Existing calculated fields
// are replaced rather than duplicated.
func ExtendedSchema(schema []Field) []Field {
	out := make([]Field, 0, len(schema)+4)
	for _, f := range CloneSchema(schema) {
		if f.Calculated {
			continue
		}
		out = append(out, f)
	}
	geo := SchemaGeoFields(schema)
	out = append(out,
		Field{Key: KeyLine, Type: TypeInteger, Title: "Line number", Calculated: true},
		Field{Key: KeyRand, Type: TypeInteger, Title: "Random value", Calculated: true},
	)
	if geo.Any() {
		out = append(out, Field{Key: KeyGeopoint, Type: TypeString, Title: "Geographic coordinates", RefersTo: ConceptLatLong, Calculated: true})
	}
	if geo.HasGeometry() {
		out = append(out, Field{Key: KeyGeoshape, Type: TypeString, Title: "Geometry", RefersTo: ConceptGeometry, Calculated: true})
	}
	return out
}
