package core

import "time"

// MetricSample is one point-in-time resource reading for a running
// workspace. Samples are append-only, ordered by CollectedAt per workspace,
// and removed only when the owning workspace is deleted.
type MetricSample struct {
	SampleID      int64     `json:"sample_id"`
	WSID          string    `json:"wsid"`
	CollectedAt   time.Time `json:"collected_at"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsedMB  float64   `json:"memory_used_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	ProcessCount  int       `json:"process_count"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}
