package output

import "time"

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type EventName string

const (
	EventRunStarted         EventName = "run_started"
	EventPhase              EventName = "phase"
	EventQueryFinished      EventName = "query_finished"
	EventFilterStage        EventName = "filter_stage"
	EventStudyPersisted     EventName = "study_persisted"
	EventStudyResumed       EventName = "study_resumed"
	EventGranuleDownloading EventName = "granule_downloading"
	EventGranuleDownloaded  EventName = "granule_downloaded"
	EventAssetFailed        EventName = "asset_failed"
	EventGranuleProcessing  EventName = "granule_processing"
	EventGranuleProcessed   EventName = "granule_processed"
	EventGranuleFailed      EventName = "granule_failed"
	EventRunFinished        EventName = "run_finished"
)

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Event     EventName      `json:"event"`
	GranuleID string         `json:"granule_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}
