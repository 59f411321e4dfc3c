package utils

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// EscapeKey turns a column header into a field key usable in queries
func EscapeKey(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsSpace(r), strings.ContainsRune(".$;,:!\"'", r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// UniqueKeys escapes every name and suffixes duplicates with _2, _3...
func UniqueKeys(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		key := EscapeKey(n)
		base := key
		for seen[key] > 0 {
			seen[base]++
			key = base + "_" + strconv.Itoa(seen[base])
		}
		seen[key]++
		out[i] = key
	}
	return out
}

// Numeric converts supported types to float64. Strings are parsed.
func Numeric(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case nil:
		return 0, false
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() >= reflect.Int && rv.Kind() <= reflect.Float64 {
			return rv.Convert(reflect.TypeOf(float64(0))).Float(), true
		}
		return 0, false
	}
}

// ParseLatLon parses a "lat,lon" pair of coordinates in degrees.
func ParseLatLon(s string) (lat, lon float64, ok bool) {
	latStr, lonStr, found := strings.Cut(s, ",")
	if !found || strings.Contains(lonStr, ",") {
		return 0, 0, false
	}
	lat, ok1 := Numeric(latStr)
	lon, ok2 := Numeric(lonStr)
	return lat, lon, ok1 && ok2 && ValidLatLon(lat, lon)
}

// ValidLatLon reports whether lat and lon are within WGS84 ranges
func ValidLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
