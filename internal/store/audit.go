package store

import (
	"context"
	"encoding/json"
)

// InsertAudit records one audit event.
func (s *Store) InsertAudit(ctx context.Context, wsid *string, actor json.RawMessage, action string, requestID *string, payload json.RawMessage) error {
	if actor == nil {
		actor = json.RawMessage(`{}`)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO orbit.audit_events (wsid, actor, action, request_id, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		wsid, actor, action, requestID, payload,
	)
	return err
}
