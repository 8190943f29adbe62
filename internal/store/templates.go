package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orbitenv/orbit/internal/core"
)

const templateColumns = `template_id, name, visibility, company_id, config,
	requires_approval, auto_start, auto_stop_hours, cpu_limit_percent,
	memory_limit_mb, max_retries, active, created_at, updated_at`

func scanTemplate(row rowScanner) (*core.Template, error) {
	var (
		t         core.Template
		configDoc []byte
	)
	err := row.Scan(
		&t.TemplateID, &t.Name, &t.Visibility, &t.CompanyID, &configDoc,
		&t.RequiresApproval, &t.AutoStart, &t.AutoStopHours, &t.CPULimitPercent,
		&t.MemoryLimitMB, &t.MaxRetries, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cfg, err := core.PlanFromDocument(configDoc)
	if err != nil {
		return nil, fmt.Errorf("decode config for %s: %w", t.TemplateID, err)
	}
	t.Config = cfg
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *core.Template) (*core.Template, error) {
	configDoc, err := t.Config.MarshalDocument()
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO orbit.templates (
			template_id, name, visibility, company_id, config,
			requires_approval, auto_start, auto_stop_hours,
			cpu_limit_percent, memory_limit_mb, max_retries
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+templateColumns,
		t.TemplateID, t.Name, t.Visibility, t.CompanyID, configDoc,
		t.RequiresApproval, t.AutoStart, t.AutoStopHours,
		t.CPULimitPercent, t.MemoryLimitMB, t.MaxRetries,
	)
	return scanTemplate(row)
}

func (s *Store) GetTemplate(ctx context.Context, templateID string) (*core.Template, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM orbit.templates WHERE template_id = $1`, templateID)
	return scanTemplate(row)
}

func (s *Store) ListTemplates(ctx context.Context, activeOnly bool) ([]*core.Template, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+templateColumns+` FROM orbit.templates
		WHERE NOT $1::boolean OR active
		ORDER BY created_at DESC`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTemplate replaces the mutable template fields. In-flight workspaces
// are unaffected: they read only their frozen plan.
func (s *Store) UpdateTemplate(ctx context.Context, t *core.Template) (*core.Template, error) {
	configDoc, err := t.Config.MarshalDocument()
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE orbit.templates SET
			name = $2, visibility = $3, config = $4,
			requires_approval = $5, auto_start = $6, auto_stop_hours = $7,
			cpu_limit_percent = $8, memory_limit_mb = $9, max_retries = $10,
			updated_at = now()
		WHERE template_id = $1
		RETURNING `+templateColumns,
		t.TemplateID, t.Name, t.Visibility, configDoc,
		t.RequiresApproval, t.AutoStart, t.AutoStopHours,
		t.CPULimitPercent, t.MemoryLimitMB, t.MaxRetries,
	)
	return scanTemplate(row)
}

func (s *Store) DeactivateTemplate(ctx context.Context, templateID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orbit.templates SET active = false, updated_at = now()
		WHERE template_id = $1`, templateID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
