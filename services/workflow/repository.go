package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles workflow, node, and edge persistence in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the workflow tables if they do not exist. The unique
// constraints enforce the model invariants: node names unique per workflow,
// at most one edge per (source, target) pair.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id          UUID PRIMARY KEY,
			user_id     TEXT NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS nodes (
			id          UUID PRIMARY KEY,
			workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			config      JSONB NOT NULL DEFAULT '{}',
			position_x  DOUBLE PRECISION NOT NULL DEFAULT 0,
			position_y  DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (workflow_id, name)
		);
		CREATE TABLE IF NOT EXISTS edges (
			id             UUID PRIMARY KEY,
			workflow_id    UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			source_node_id UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			target_node_id UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source_node_id, target_node_id)
		);
		CREATE TABLE IF NOT EXISTS runs (
			id            UUID PRIMARY KEY,
			workflow_id   UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			user_id       TEXT NOT NULL,
			status        TEXT NOT NULL,
			input         JSONB NOT NULL DEFAULT '{}',
			output        JSONB,
			error_message TEXT,
			started_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at  TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS node_executions (
			id              UUID PRIMARY KEY,
			run_id          UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			node_id         UUID NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			status          TEXT NOT NULL,
			input           JSONB,
			output          JSONB,
			error_message   TEXT,
			execution_order INT NOT NULL,
			started_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at    TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_nodes_workflow ON nodes(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_edges_workflow ON edges(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_node_executions_run ON node_executions(run_id)
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by id, scoped to its owner.
// Returns nil, nil if not found.
func (r *Repository) GetWorkflow(ctx context.Context, id, userID string) (*Workflow, error) {
	var wf Workflow
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM workflows WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Description, &wf.CreatedAt, &wf.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

// ListWorkflows returns the workflows owned by a user, newest first.
func (r *Repository) ListWorkflows(ctx context.Context, userID string) ([]Workflow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM workflows WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []Workflow
	for rows.Next() {
		var wf Workflow
		if err := rows.Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Description, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// CreateWorkflow inserts a workflow, assigning an id when absent.
func (r *Repository) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO workflows (id, user_id, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, wf.ID, wf.UserID, wf.Name, wf.Description).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// DeleteWorkflow removes a workflow and, via cascade, its nodes, edges, and
// run history.
func (r *Repository) DeleteWorkflow(ctx context.Context, id, userID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete workflow: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListNodes returns a workflow's nodes in creation order.
func (r *Repository) ListNodes(ctx context.Context, workflowID string) ([]Node, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, workflow_id, name, kind, config, position_x, position_y, created_at, updated_at
		FROM nodes WHERE workflow_id = $1 ORDER BY created_at, id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var configJSON []byte
		if err := rows.Scan(&n.ID, &n.WorkflowID, &n.Name, &n.Kind, &configJSON, &n.Position.X, &n.Position.Y, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if err := json.Unmarshal(configJSON, &n.Config); err != nil {
			return nil, fmt.Errorf("unmarshal node config: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// CreateNode inserts a node. The (workflow_id, name) unique constraint
// rejects duplicate display names within one workflow.
func (r *Repository) CreateNode(ctx context.Context, n *Node) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	configJSON, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("marshal node config: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO nodes (id, workflow_id, name, kind, config, position_x, position_y)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, n.ID, n.WorkflowID, n.Name, n.Kind, configJSON, n.Position.X, n.Position.Y).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	return nil
}

// UpdateNodeConfig replaces a node's config mapping.
func (r *Repository) UpdateNodeConfig(ctx context.Context, id string, config map[string]any) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal node config: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE nodes SET config = $2, updated_at = NOW() WHERE id = $1
	`, id, configJSON)
	if err != nil {
		return fmt.Errorf("update node config: %w", err)
	}
	return nil
}

// ListEdges returns a workflow's edges in creation order.
func (r *Repository) ListEdges(ctx context.Context, workflowID string) ([]Edge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, workflow_id, source_node_id, target_node_id, created_at
		FROM edges WHERE workflow_id = $1 ORDER BY created_at, id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.SourceNodeID, &e.TargetNodeID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// CreateEdge inserts an edge. The (source, target) unique constraint rejects
// duplicate arcs.
func (r *Repository) CreateEdge(ctx context.Context, e *Edge) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO edges (id, workflow_id, source_node_id, target_node_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, e.ID, e.WorkflowID, e.SourceNodeID, e.TargetNodeID).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create edge: %w", err)
	}
	return nil
}

// InitDB creates the schema and seeds the demo workflow. Called from main on
// startup.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}

const (
	seedUserID     = "demo"
	seedWorkflowID = "9f2b41f0-6c7a-4f0e-9b5d-6d1f6b6c0001"
)

var seedNodeIDs = map[string]string{
	"search": "9f2b41f0-6c7a-4f0e-9b5d-6d1f6b6c1001",
	"llm":    "9f2b41f0-6c7a-4f0e-9b5d-6d1f6b6c1002",
	"http":   "9f2b41f0-6c7a-4f0e-9b5d-6d1f6b6c1003",
	"db":     "9f2b41f0-6c7a-4f0e-9b5d-6d1f6b6c1004",
}

// Seed inserts the sample resume-match workflow if it does not already exist:
// a linear vector_search -> llm_call -> http_request -> db_write chain.
func (r *Repository) Seed(ctx context.Context) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)`, seedWorkflowID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check seed workflow: %w", err)
	}
	if exists {
		return nil
	}

	wf := &Workflow{
		ID:          seedWorkflowID,
		UserID:      seedUserID,
		Name:        "Resume-Job Match Assistant",
		Description: "Searches a resume collection, scores the match with an LLM, posts and stores the result",
	}
	if err := r.CreateWorkflow(ctx, wf); err != nil {
		return err
	}

	nodes := []Node{
		{
			ID: seedNodeIDs["search"], WorkflowID: seedWorkflowID,
			Name: "Search Resume", Kind: KindVectorSearch,
			Config: map[string]any{
				"collection": "resume_database",
				"query":      "{job_description}",
				"top_k":      5,
			},
			Position: Position{X: 100, Y: 200},
		},
		{
			ID: seedNodeIDs["llm"], WorkflowID: seedWorkflowID,
			Name: "Analyze Match", Kind: KindLLMCall,
			Config: map[string]any{
				"prompt_template": "You are a resume analyst. Job description:\n{job_description}\n\nRelevant resume sections:\n{" + seedNodeIDs["search"] + "_results}\n\nRate the match from 1-10 and list key strengths and gaps.",
				"temperature":     0.7,
				"max_tokens":      800,
			},
			Position: Position{X: 400, Y: 200},
		},
		{
			ID: seedNodeIDs["http"], WorkflowID: seedWorkflowID,
			Name: "Send Results", Kind: KindHTTPRequest,
			Config: map[string]any{
				"method": "POST",
				"url":    "https://httpbin.org/post",
				"body": map[string]any{
					"job_description": "{job_description}",
					"match_analysis":  "{" + seedNodeIDs["llm"] + "_response}",
				},
			},
			Position: Position{X: 700, Y: 200},
		},
		{
			ID: seedNodeIDs["db"], WorkflowID: seedWorkflowID,
			Name: "Save Match Analysis", Kind: KindDBWrite,
			Config: map[string]any{
				"operation": "INSERT",
				"table":     "resume_matches",
				"values": map[string]any{
					"job_description": "{job_description}",
					"match_analysis":  "{" + seedNodeIDs["llm"] + "_response}",
					"status":          "completed",
				},
			},
			Position: Position{X: 1000, Y: 200},
		},
	}
	for i := range nodes {
		if err := r.CreateNode(ctx, &nodes[i]); err != nil {
			return err
		}
	}

	chain := []string{seedNodeIDs["search"], seedNodeIDs["llm"], seedNodeIDs["http"], seedNodeIDs["db"]}
	for i := 0; i+1 < len(chain); i++ {
		edge := &Edge{
			WorkflowID:   seedWorkflowID,
			SourceNodeID: chain[i],
			TargetNodeID: chain[i+1],
		}
		if err := r.CreateEdge(ctx, edge); err != nil {
			return err
		}
	}
	return nil
}
