package store

import (
	"context"
	"time"

	"github.com/orbitenv/orbit/internal/core"
)

// InsertMetricSample appends one sample. Samples are never updated or
// deleted individually; they go away with the workspace (ON DELETE CASCADE).
func (s *Store) InsertMetricSample(ctx context.Context, m *core.MetricSample) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orbit.metric_samples (
			wsid, collected_at, cpu_percent, memory_used_mb,
			memory_percent, process_count, uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.WSID, m.CollectedAt, m.CPUPercent, m.MemoryUsedMB,
		m.MemoryPercent, m.ProcessCount, m.UptimeSeconds,
	)
	return err
}

// ListMetricSamples returns samples for one workspace ordered by collection
// time ascending, optionally bounded by [from, to].
func (s *Store) ListMetricSamples(ctx context.Context, wsid string, from, to *time.Time, limit int) ([]*core.MetricSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sample_id, wsid, collected_at, cpu_percent, memory_used_mb,
		       memory_percent, process_count, uptime_seconds
		FROM orbit.metric_samples
		WHERE wsid = $1
		  AND ($2::timestamptz IS NULL OR collected_at >= $2)
		  AND ($3::timestamptz IS NULL OR collected_at <= $3)
		ORDER BY collected_at
		LIMIT $4`, wsid, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.MetricSample
	for rows.Next() {
		var m core.MetricSample
		if err := rows.Scan(
			&m.SampleID, &m.WSID, &m.CollectedAt, &m.CPUPercent, &m.MemoryUsedMB,
			&m.MemoryPercent, &m.ProcessCount, &m.UptimeSeconds,
		); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
