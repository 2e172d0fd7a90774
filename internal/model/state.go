package model

// Stats are the per-run counters shown to the agent.
type Stats struct {
	Total      int `json:"total" yaml:"total"`
	Completed  int `json:"completed" yaml:"completed"`
	Successful int `json:"successful" yaml:"successful"`
	Failed     int `json:"failed" yaml:"failed"`
	Remaining  int `json:"remaining" yaml:"remaining"`
}

type PendingClassification struct {
	Number      string `json:"number" yaml:"number"`
	DurationSec int    `json:"duration_sec" yaml:"duration_sec"`
	CampaignID  string `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
	StartedAt   string `json:"started_at" yaml:"started_at"`
}

// EngineStatus is a point-in-time copy of the engine state.
type EngineStatus struct {
	SchemaVersion  int                    `json:"schema_version" yaml:"schema_version"`
	FileType       string                 `json:"file_type" yaml:"file_type"`
	Phase          Phase                  `json:"phase" yaml:"phase"`
	CampaignID     string                 `json:"campaign_id,omitempty" yaml:"campaign_id,omitempty"`
	Stats          Stats                  `json:"stats" yaml:"stats"`
	CurrentIndex   int                    `json:"current_index" yaml:"current_index"`
	ActiveCount    int                    `json:"active_count" yaml:"active_count"`
	MemoryCount    int                    `json:"memory_count" yaml:"memory_count"`
	CallState      CallState              `json:"call_state" yaml:"call_state"`
	CurrentContact *Contact               `json:"current_contact,omitempty" yaml:"current_contact,omitempty"`
	CallSeconds    int                    `json:"call_seconds" yaml:"call_seconds"`
	Muted          bool                   `json:"muted" yaml:"muted"`
	Pending        *PendingClassification `json:"pending_classification,omitempty" yaml:"pending_classification,omitempty"`
	UpdatedAt      string                 `json:"updated_at" yaml:"updated_at"`
}
