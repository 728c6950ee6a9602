package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunRepository persists run and node-execution records in PostgreSQL.
// Terminal-status updates carry a status guard in SQL, so a record
// transitions out of "running" exactly once.
type RunRepository struct {
	db *pgxpool.Pool
}

// NewRunRepository creates a RunRepository backed by the given pool.
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: pool}
}

// CreateRun inserts a run with status running and the input snapshot.
func (r *RunRepository) CreateRun(ctx context.Context, workflowID, userID string, input map[string]any) (*Run, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal run input: %w", err)
	}

	run := &Run{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		UserID:     userID,
		Status:     RunStatusRunning,
		Input:      input,
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO runs (id, workflow_id, user_id, status, input)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING started_at
	`, run.ID, workflowID, userID, run.Status, inputJSON).Scan(&run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// UpdateRunStatus moves a run to a terminal status. The guard on the current
// status makes the transition idempotent: a run already settled is left
// untouched.
func (r *RunRepository) UpdateRunStatus(ctx context.Context, runID, status string, output map[string]any, errorMessage string) error {
	var outputJSON []byte
	if output != nil {
		var err error
		outputJSON, err = json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal run output: %w", err)
		}
	}

	_, err := r.db.Exec(ctx, `
		UPDATE runs
		SET status = $2,
		    output = COALESCE($3, output),
		    error_message = NULLIF($4, ''),
		    completed_at = CASE WHEN $2 IN ('success', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = 'running'
	`, runID, status, outputJSON, errorMessage)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id, scoped to its owner. Returns nil, nil if not
// found.
func (r *RunRepository) GetRun(ctx context.Context, runID, userID string) (*Run, error) {
	var run Run
	var inputJSON, outputJSON []byte
	var errorMessage *string

	err := r.db.QueryRow(ctx, `
		SELECT id, workflow_id, user_id, status, input, output, error_message, started_at, completed_at
		FROM runs WHERE id = $1 AND user_id = $2
	`, runID, userID).Scan(&run.ID, &run.WorkflowID, &run.UserID, &run.Status, &inputJSON, &outputJSON, &errorMessage, &run.StartedAt, &run.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if err := unmarshalPayload(inputJSON, &run.Input); err != nil {
		return nil, err
	}
	if err := unmarshalPayload(outputJSON, &run.Output); err != nil {
		return nil, err
	}
	if errorMessage != nil {
		run.ErrorMessage = *errorMessage
	}
	return &run, nil
}

// ListRuns returns a workflow's runs, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, workflowID string) ([]Run, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, workflow_id, user_id, status, input, output, error_message, started_at, completed_at
		FROM runs WHERE workflow_id = $1 ORDER BY started_at DESC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var inputJSON, outputJSON []byte
		var errorMessage *string
		if err := rows.Scan(&run.ID, &run.WorkflowID, &run.UserID, &run.Status, &inputJSON, &outputJSON, &errorMessage, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := unmarshalPayload(inputJSON, &run.Input); err != nil {
			return nil, err
		}
		if err := unmarshalPayload(outputJSON, &run.Output); err != nil {
			return nil, err
		}
		if errorMessage != nil {
			run.ErrorMessage = *errorMessage
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateNodeExecution inserts a node-execution record with status running.
func (r *RunRepository) CreateNodeExecution(ctx context.Context, runID, nodeID string, order int, input map[string]any) (*NodeExecution, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal node execution input: %w", err)
	}

	record := &NodeExecution{
		ID:     uuid.New().String(),
		RunID:  runID,
		NodeID: nodeID,
		Status: NodeStatusRunning,
		Input:  input,
		Order:  order,
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO node_executions (id, run_id, node_id, status, input, execution_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at
	`, record.ID, runID, nodeID, record.Status, inputJSON, order).Scan(&record.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create node execution: %w", err)
	}
	return record, nil
}

// UpdateNodeExecution moves a node execution to a terminal status, with the
// same idempotency guard as runs.
func (r *RunRepository) UpdateNodeExecution(ctx context.Context, id, status string, output map[string]any, errorMessage string) error {
	var outputJSON []byte
	if output != nil {
		var err error
		outputJSON, err = json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal node execution output: %w", err)
		}
	}

	_, err := r.db.Exec(ctx, `
		UPDATE node_executions
		SET status = $2,
		    output = COALESCE($3, output),
		    error_message = NULLIF($4, ''),
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = 'running'
	`, id, status, outputJSON, errorMessage)
	if err != nil {
		return fmt.Errorf("update node execution: %w", err)
	}
	return nil
}

// ListNodeExecutions returns a run's node executions in execution order.
func (r *RunRepository) ListNodeExecutions(ctx context.Context, runID string) ([]NodeExecution, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, run_id, node_id, status, input, output, error_message, execution_order, started_at, completed_at
		FROM node_executions WHERE run_id = $1 ORDER BY execution_order
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list node executions: %w", err)
	}
	defer rows.Close()

	var records []NodeExecution
	for rows.Next() {
		var record NodeExecution
		var inputJSON, outputJSON []byte
		var errorMessage *string
		if err := rows.Scan(&record.ID, &record.RunID, &record.NodeID, &record.Status, &inputJSON, &outputJSON, &errorMessage, &record.Order, &record.StartedAt, &record.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan node execution: %w", err)
		}
		if err := unmarshalPayload(inputJSON, &record.Input); err != nil {
			return nil, err
		}
		if err := unmarshalPayload(outputJSON, &record.Output); err != nil {
			return nil, err
		}
		if errorMessage != nil {
			record.ErrorMessage = *errorMessage
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func unmarshalPayload(raw []byte, target *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
