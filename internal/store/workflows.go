package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/bugsmith/internal/workflow"
)

// Put upserts the workflow snapshot. The full aggregate is stored as JSONB;
// status and session are lifted into columns for querying.
func (s *Store) Put(ctx context.Context, wf *workflow.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO workflows (id, session_id, status, progress, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET status = $3, progress = $4, data = $5, updated_at = $7`,
		wf.ID, wf.SessionID, string(wf.Status), wf.Progress, data, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put workflow: %w", err)
	}
	return nil
}

// Get returns the latest snapshot for id, or workflow.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM workflows WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListActive returns all workflows still analyzing, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT data FROM workflows
		WHERE status = $1
		ORDER BY created_at ASC`, string(workflow.StatusAnalyzing))
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var wf workflow.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// DeleteBySession removes all workflows belonging to a session. Used by
// session teardown.
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session workflows: %w", err)
	}
	return tag.RowsAffected(), nil
}
