package models

import "time"

// Setting keys stored in server_config. Orchestrators read these at job start;
// changing a setting does not affect jobs already running.
const (
	SettingSyncInterval       = "sync_interval_minutes"
	SettingMaxConcurrentSyncs = "max_concurrent_syncs"
	SettingSyncBatchSize      = "sync_batch_size"
	SettingCacheTTL           = "cache_ttl_hours"
	SettingSearchMaxResults   = "search_max_results"
)

// ServerSetting is one key/value row of operator-tunable configuration.
type ServerSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HealthStatus is a point-in-time snapshot of cache health. It is always
// produced, even when the store is degraded or closed.
type HealthStatus struct {
	Connected    bool      `json:"connected"`
	StorageBytes int64     `json:"storage_bytes"`
	TableCount   int       `json:"table_count"`
	JobCount     int       `json:"job_count"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	Error        string    `json:"error,omitempty"`
}
