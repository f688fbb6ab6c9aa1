package config

import "fmt"

func DefaultTemplate() string {
	return fmt.Sprintf(`version: 1
root_dir: "~/hls-studies"
job_name: "study"
catalog:
  stac_url: %q
  collections: ["HLSL30.v2.0", "HLSS30.v2.0"]
  max_items: %d
bounding_box: [-120, 43, -118, 48]
# or search a GeoJSON region instead of the box:
# intersects: "/path/to/region.geojson"
date_range:
  start: "2021-07-15"
  end: "2021-08-14"
filters:
  months: ["Aug"]
  cloud_cover_max: 30
  spatial_coverage_min: 40
  same_day: false
  exclude_landsat9: false
processing:
  kind: "dswx-hls"
  binary: "dswx_hls.py"
  dem_file: "~/ancillary/dem.vrt"
  landcover_file: "~/ancillary/landcover.tif"
  worldcover_file: "~/ancillary/worldcover.vrt"
  shoreline_shapefile: "~/ancillary/shoreline.shp"
  timeout_seconds: 7200
execution:
  download_workers: 8
  process_workers: 2
`, DefaultSTACURL, DefaultMaxItems)
}
