// Package hlsfixture builds deterministic HLS granule sets for tests.
package hlsfixture

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaa/hls-scaling/internal/granule"
)

var (
	// StudyStart is the first day of the one-month study window
	// 2021-07-15/2021-08-14.
	StudyStart = time.Date(2021, time.July, 15, 0, 0, 0, 0, time.UTC)

	backgroundTiles = []string{"11TLH", "11TLJ", "11TLK", "11TMH", "11TMJ", "11TMK", "11TNH", "11TNJ", "11TNK"}
)

const (
	// ScenarioSize is the number of granules the catalog stub returns for
	// bbox [-120,43,-118,48] over the study window.
	ScenarioSize = 170
	// ScenarioFilteredSize is what remains after months=[Aug],
	// cloud_cover_max=30, spatial_coverage_min=40 and same_day.
	ScenarioFilteredSize = 6

	pairedTile = "11TPJ"
)

// Scenario returns ScenarioSize records in catalog order. Every background
// record fails at least one of the scenario filters; three L30/S30 pairs on
// tile 11TPJ pass all of them.
func Scenario(baseURL string) []granule.Record {
	baseURL = strings.TrimRight(baseURL, "/")
	background := make([]granule.Record, 0, ScenarioSize-ScenarioFilteredSize)
	for i := 0; i < ScenarioSize-ScenarioFilteredSize; i++ {
		category := i % 4
		tile := backgroundTiles[i%len(backgroundTiles)]
		sensor := granule.SensorL30
		if i%2 == 1 {
			sensor = granule.SensorS30
		}

		offset := 17 + (i/4)%14
		cloud, spatial := 10.0, 90.0
		switch category {
		case 0:
			// acquired in July
			offset = (i / 4) % 17
		case 1:
			cloud = 75
		case 2:
			spatial = 20
		case 3:
			// August, good metadata, but S30 only on its tile/day
		}
		background = append(background, Record(baseURL, sensor, tile, offset, 18*3600+i, cloud, spatial))
	}

	pairs := []granule.Record{}
	for n, offset := range []int{20, 25, 30} {
		pairs = append(pairs,
			Record(baseURL, granule.SensorL30, pairedTile, offset, 19*3600+n, 10, 90),
			Record(baseURL, granule.SensorS30, pairedTile, offset, 19*3600+30+n, 12, 95),
		)
	}

	out := make([]granule.Record, 0, ScenarioSize)
	out = append(out, background[:10]...)
	out = append(out, pairs[0:2]...)
	out = append(out, background[10:60]...)
	out = append(out, pairs[2:4]...)
	out = append(out, background[60:120]...)
	out = append(out, pairs[4:6]...)
	out = append(out, background[120:]...)
	return out
}

// Record builds one granule acquired dayOffset days after StudyStart, second
// seconds after midnight UTC.
func Record(baseURL string, sensor granule.Sensor, tile string, dayOffset int, second int, cloud float64, spatial float64) granule.Record {
	day := StudyStart.AddDate(0, 0, dayOffset)
	acquired := day.Add(time.Duration(second) * time.Second)
	id := fmt.Sprintf("HLS.%s.T%s.%sT%s.v2.0", sensor, tile, day.Format("2006002"), acquired.Format("150405"))

	bands := granule.DefaultBands(granule.SensorS30)
	collection := granule.CollectionS30
	platform := "sentinel-2a"
	productID := ""
	if sensor == granule.SensorL30 {
		bands = granule.DefaultBands(granule.SensorL30)
		collection = granule.CollectionL30
		platform = "landsat-8"
		productID = "LC08_L1TP_042029_" + day.Format("20060102")
	}

	assets := make([]granule.Asset, 0, len(bands))
	for _, band := range bands {
		assets = append(assets, granule.Asset{
			ID:   band,
			Href: fmt.Sprintf("%s/%s/%s.%s.tif", baseURL, collection, id, band),
		})
	}

	return granule.Record{
		ID:               id,
		Collection:       collection,
		AcquiredAt:       acquired,
		Platform:         platform,
		CloudCover:       &cloud,
		SpatialCoverage:  &spatial,
		LandsatProductID: productID,
		Assets:           assets,
	}
}
