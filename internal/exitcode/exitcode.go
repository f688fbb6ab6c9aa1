// Package exitcode lists the process exit statuses of hlsscale.
package exitcode

const (
	Success           = 0
	RuntimeFailure    = 1
	InvalidUsage      = 2
	InvalidConfig     = 3
	MissingDependency = 4
	// PartialSuccess means the study finished but some granules failed.
	PartialSuccess = 5
	// CatalogFailure means the catalog could not be searched or returned
	// nothing usable.
	CatalogFailure = 6
	// StateCorrupt means study_state.json or settings.yaml cannot be trusted.
	StateCorrupt = 7
	Interrupted  = 130
)
