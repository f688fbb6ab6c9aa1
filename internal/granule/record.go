package granule

import (
	"fmt"
	"strings"
	"time"
)

type Sensor string

const (
	SensorL30 Sensor = "L30"
	SensorS30 Sensor = "S30"
)

type Asset struct {
	ID   string `json:"id"`
	Href string `json:"href"`
}

// Record is one catalog search result. Records are never mutated after the
// catalog adapter returns them.
type Record struct {
	ID               string    `json:"id"`
	Collection       string    `json:"collection,omitempty"`
	AcquiredAt       time.Time `json:"acquired_at"`
	Platform         string    `json:"platform,omitempty"`
	CloudCover       *float64  `json:"cloud_cover,omitempty"`
	SpatialCoverage  *float64  `json:"spatial_coverage,omitempty"`
	LandsatProductID string    `json:"landsat_product_id,omitempty"`
	MetadataHref     string    `json:"metadata_href,omitempty"`
	Assets           []Asset   `json:"assets"`
}

// Clone returns a copy of r that shares no memory with it.
func (r Record) Clone() Record {
	out := r
	out.Assets = append([]Asset(nil), r.Assets...)
	if r.CloudCover != nil {
		v := *r.CloudCover
		out.CloudCover = &v
	}
	if r.SpatialCoverage != nil {
		v := *r.SpatialCoverage
		out.SpatialCoverage = &v
	}
	return out
}

func (r Record) AssetIDs() []string {
	ids := make([]string, 0, len(r.Assets))
	for _, asset := range r.Assets {
		ids = append(ids, asset.ID)
	}
	return ids
}

func (r Record) Asset(id string) (Asset, bool) {
	for _, asset := range r.Assets {
		if asset.ID == id {
			return asset, true
		}
	}
	return Asset{}, false
}

// Name is the parsed form of an HLS granule id such as
// HLS.L30.T11TLH.2020160T183142.v2.0.
type Name struct {
	Sensor  Sensor
	TileID  string
	Day     time.Time
	Clock   string
	Version string
}

// DayKey groups granules acquired over the same tile on the same day.
func (n Name) DayKey() string {
	return n.Day.Format("2006002") + n.TileID
}

func ParseName(id string) (Name, error) {
	parts := strings.Split(strings.TrimSpace(id), ".")
	if len(parts) < 4 || parts[0] != "HLS" {
		return Name{}, fmt.Errorf("granule id %q does not follow HLS naming", id)
	}

	sensor := Sensor(parts[1])
	switch sensor {
	case SensorL30, SensorS30:
	default:
		return Name{}, fmt.Errorf("granule id %q has unknown sensor %q", id, parts[1])
	}

	tile := parts[2]
	if len(tile) < 2 || tile[0] != 'T' {
		return Name{}, fmt.Errorf("granule id %q has malformed tile %q", id, tile)
	}

	stamp := parts[3]
	dayPart, clock, _ := strings.Cut(stamp, "T")
	if len(dayPart) != 7 {
		return Name{}, fmt.Errorf("granule id %q has malformed acquisition date %q", id, stamp)
	}
	day, err := time.Parse("2006002", dayPart)
	if err != nil {
		return Name{}, fmt.Errorf("granule id %q has malformed acquisition date %q: %w", id, stamp, err)
	}

	version := ""
	if len(parts) > 4 {
		version = strings.Join(parts[4:], ".")
	}

	return Name{
		Sensor:  sensor,
		TileID:  tile[1:],
		Day:     day,
		Clock:   clock,
		Version: version,
	}, nil
}
