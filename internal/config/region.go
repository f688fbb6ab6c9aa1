package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var geometryTypes = map[string]bool{
	"Point":              true,
	"MultiPoint":         true,
	"LineString":         true,
	"MultiLineString":    true,
	"Polygon":            true,
	"MultiPolygon":       true,
	"GeometryCollection": true,
}

type geoJSONObject struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []json.RawMessage `json:"geometries"`
	Geometry    json.RawMessage   `json:"geometry"`
	Features    []json.RawMessage `json:"features"`
}

// ReadRegion loads the GeoJSON document at path and returns the geometry to
// send as a STAC intersects query. A Feature yields its geometry; a
// FeatureCollection must hold exactly one feature.
func ReadRegion(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region %s: %w", path, err)
	}
	geometry, err := regionGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", path, err)
	}
	return geometry, nil
}

func regionGeometry(data []byte) (json.RawMessage, error) {
	var obj geoJSONObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("not a GeoJSON object: %w", err)
	}
	switch {
	case obj.Type == "Feature":
		if isNull(obj.Geometry) {
			return nil, errors.New("feature has no geometry")
		}
		return regionGeometry(obj.Geometry)
	case obj.Type == "FeatureCollection":
		if len(obj.Features) != 1 {
			return nil, fmt.Errorf("feature collection must hold exactly one feature, found %d", len(obj.Features))
		}
		return regionGeometry(obj.Features[0])
	case !geometryTypes[obj.Type]:
		return nil, fmt.Errorf("unsupported GeoJSON type %q", obj.Type)
	case obj.Type == "GeometryCollection":
		if len(obj.Geometries) == 0 {
			return nil, errors.New("geometry collection is empty")
		}
	case isNull(obj.Coordinates):
		return nil, fmt.Errorf("%s has no coordinates", obj.Type)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, err
	}
	return json.RawMessage(compact.Bytes()), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
