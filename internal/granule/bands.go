package granule

import "slices"

const (
	CollectionL30 = "HLSL30.v2.0"
	CollectionS30 = "HLSS30.v2.0"
)

var (
	knownBands = map[Sensor][]string{
		SensorL30: {"B01", "B02", "B03", "B04", "B05", "B06", "B07", "B09", "B10", "B11", "Fmask", "SAA", "SZA", "VAA", "VZA"},
		SensorS30: {"B01", "B02", "B03", "B04", "B05", "B06", "B07", "B08", "B8A", "B09", "B10", "B11", "B12", "Fmask", "SAA", "SZA", "VAA", "VZA"},
	}
	defaultBands = map[Sensor][]string{
		SensorL30: {"B02", "B03", "B04", "B05", "B06", "B07", "Fmask"},
		SensorS30: {"B02", "B03", "B04", "B8A", "B11", "B12", "Fmask"},
	}
)

// DefaultBands returns the bands DSWx-HLS consumes for the sensor.
func DefaultBands(sensor Sensor) []string {
	return slices.Clone(defaultBands[sensor])
}

func IsKnownBand(sensor Sensor, band string) bool {
	return slices.Contains(knownBands[sensor], band)
}

// SensorForCollection maps a v2.0 HLS collection id to its sensor.
func SensorForCollection(collection string) (Sensor, bool) {
	switch collection {
	case CollectionL30:
		return SensorL30, true
	case CollectionS30:
		return SensorS30, true
	default:
		return "", false
	}
}
