package workflow

import "time"

// Node kinds form a closed set; adding a kind means registering a new handler.
const (
	KindLLMCall      = "llm_call"
	KindHTTPRequest  = "http_request"
	KindVectorSearch = "vector_search"
	KindDBWrite      = "db_write"
)

// Run and node-execution statuses. Both state machines are
// running -> terminal, with no further transitions.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"

	NodeStatusRunning   = "running"
	NodeStatusCompleted = "completed"
	NodeStatusFailed    = "failed"
)

// Workflow is a persisted workflow definition. Nodes and edges are loaded
// separately; a Workflow row alone carries only identity and ownership.
type Workflow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Node is a single step in a workflow graph. Config keys depend on the kind;
// each handler validates its own required fields. Position is layout only.
type Node struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflowId"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Config     map[string]any `json:"config"`
	Position   Position       `json:"position"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between two nodes of one workflow. At most
// one edge may exist per (source, target) pair.
type Edge struct {
	ID           string    `json:"id"`
	WorkflowID   string    `json:"workflowId"`
	SourceNodeID string    `json:"sourceNodeId"`
	TargetNodeID string    `json:"targetNodeId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Run is one execution instance of a workflow. Output is set only on
// success, ErrorMessage only on failure.
type Run struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflowId"`
	UserID       string         `json:"userId"`
	Status       string         `json:"status"`
	Input        map[string]any `json:"input"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// NodeExecution records one run's attempt to execute one node. Records are
// append-only per run: a node skipped after an upstream failure has none.
type NodeExecution struct {
	ID           string         `json:"id"`
	RunID        string         `json:"runId"`
	NodeID       string         `json:"nodeId"`
	Status       string         `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Order        int            `json:"order"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// ExecuteRequest is the JSON body sent to execute a workflow.
type ExecuteRequest struct {
	Input map[string]any `json:"input"`
}

// ExecutionResult is the top-level response returned after executing a workflow.
type ExecutionResult struct {
	RunID          string                `json:"runId"`
	WorkflowID     string                `json:"workflowId"`
	Status         string                `json:"status"`
	StartedAt      time.Time             `json:"startedAt"`
	CompletedAt    *time.Time            `json:"completedAt,omitempty"`
	ErrorMessage   string                `json:"errorMessage,omitempty"`
	Input          map[string]any        `json:"input"`
	Output         map[string]any        `json:"output,omitempty"`
	NodeExecutions []NodeExecutionResult `json:"nodeExecutions"`
}

// NodeExecutionResult is the per-node slice of an ExecutionResult.
type NodeExecutionResult struct {
	NodeID      string         `json:"nodeId"`
	NodeName    string         `json:"nodeName"`
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Order       int            `json:"order"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}
