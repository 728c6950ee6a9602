package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrWorkflowNotFound signals an unknown workflow or one the acting user
	// does not own.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrEmptyWorkflow signals a workflow with no nodes; rejected before any
	// run record exists.
	ErrEmptyWorkflow = errors.New("workflow has no nodes to execute")
)

// WorkflowStore is the read access the engine needs to workflow definitions.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id, userID string) (*Workflow, error)
	ListNodes(ctx context.Context, workflowID string) ([]Node, error)
	ListEdges(ctx context.Context, workflowID string) ([]Edge, error)
}

// RunStore persists run and node-execution records. Terminal-status updates
// are applied at most once per record.
type RunStore interface {
	CreateRun(ctx context.Context, workflowID, userID string, input map[string]any) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID, status string, output map[string]any, errorMessage string) error
	CreateNodeExecution(ctx context.Context, runID, nodeID string, order int, input map[string]any) (*NodeExecution, error)
	UpdateNodeExecution(ctx context.Context, id, status string, output map[string]any, errorMessage string) error
}

// Engine owns the run lifecycle: it validates the graph, creates run and
// node-execution records, walks nodes in validated order dispatching to
// handlers, propagates outputs forward, and settles the terminal run status.
type Engine struct {
	store    WorkflowStore
	runs     RunStore
	registry Registry
	parallel bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithParallelExecution makes the engine run graph-independent nodes
// concurrently. A node still starts only after every predecessor completed,
// and the first failure stops further nodes from starting while in-flight
// ones finish and are recorded. Sequential execution is the default.
func WithParallelExecution() EngineOption {
	return func(e *Engine) { e.parallel = true }
}

// NewEngine creates an Engine over the given stores and handler registry.
func NewEngine(store WorkflowStore, runs RunStore, registry Registry, opts ...EngineOption) *Engine {
	e := &Engine{store: store, runs: runs, registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a workflow end to end against the given input. Validation
// failures and unknown workflows are reported before any run record is
// created; a node failure marks the run failed and aborts downstream nodes.
// The returned result always reflects the persisted run, including its
// terminal status.
func (e *Engine) Execute(ctx context.Context, workflowID, userID string, input map[string]any) (*ExecutionResult, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID, userID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	nodes, err := e.store.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrEmptyWorkflow
	}
	edges, err := e.store.ListEdges(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}

	graph, err := ValidateGraph(nodes, edges, false)
	if err != nil {
		return nil, err
	}

	if input == nil {
		input = map[string]any{}
	}

	run, err := e.runs.CreateRun(ctx, workflowID, userID, input)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	slog.Info("run started", "runId", run.ID, "workflowId", workflowID, "nodes", len(nodes), "parallel", e.parallel)

	nodeByID := make(map[string]*Node, len(nodes))
	for i := range nodes {
		nodeByID[nodes[i].ID] = &nodes[i]
	}

	var (
		results []NodeExecutionResult
		runErr  error
	)
	if e.parallel {
		results, runErr = e.executeParallel(ctx, run, nodeByID, edges, graph.SortedNodes, input, userID)
	} else {
		results, runErr = e.executeSequential(ctx, run, nodeByID, graph.SortedNodes, input, userID)
	}

	result := &ExecutionResult{
		RunID:          run.ID,
		WorkflowID:     workflowID,
		Status:         RunStatusSuccess,
		StartedAt:      run.StartedAt,
		Input:          input,
		NodeExecutions: results,
	}

	if runErr != nil {
		result.Status = RunStatusFailed
		result.ErrorMessage = runErr.Error()
		if err := e.runs.UpdateRunStatus(ctx, run.ID, RunStatusFailed, nil, runErr.Error()); err != nil {
			return nil, fmt.Errorf("mark run failed: %w", err)
		}
		completed := time.Now().UTC()
		result.CompletedAt = &completed
		slog.Warn("run failed", "runId", run.ID, "error", runErr)
		return result, nil
	}

	// Final output is the last node visited, not necessarily a sink.
	var finalOutput map[string]any
	if len(results) > 0 {
		finalOutput = results[len(results)-1].Output
	}
	if err := e.runs.UpdateRunStatus(ctx, run.ID, RunStatusSuccess, finalOutput, ""); err != nil {
		return nil, fmt.Errorf("mark run succeeded: %w", err)
	}
	completed := time.Now().UTC()
	result.CompletedAt = &completed
	result.Output = finalOutput

	slog.Info("run succeeded", "runId", run.ID, "nodesExecuted", len(results))
	return result, nil
}

// executeSequential walks the validated order one node at a time: every node
// sees the complete output map of all previously executed nodes, and the
// first failure aborts the remaining nodes.
func (e *Engine) executeSequential(ctx context.Context, run *Run, nodeByID map[string]*Node, order []string, input map[string]any, userID string) ([]NodeExecutionResult, error) {
	outputs := make(map[string]map[string]any, len(order))
	results := make([]NodeExecutionResult, 0, len(order))

	for i, nodeID := range order {
		node, ok := nodeByID[nodeID]
		if !ok {
			return results, fmt.Errorf("node %s missing from workflow", nodeID)
		}

		res, output, err := e.executeNode(ctx, run, node, i, input, outputs, userID)
		if res != nil {
			results = append(results, *res)
		}
		if err != nil {
			return results, err
		}
		outputs[nodeID] = output
	}
	return results, nil
}

// executeNode creates the node-execution record, dispatches to the handler,
// and settles the record's terminal status. The returned error is the
// run-level failure for this node, already naming it.
func (e *Engine) executeNode(ctx context.Context, run *Run, node *Node, order int, input map[string]any, outputs map[string]map[string]any, userID string) (*NodeExecutionResult, map[string]any, error) {
	snapshot := map[string]any{
		"workflow_input": input,
		"node_outputs":   copyOutputs(outputs),
		"user_id":        userID,
	}

	record, err := e.runs.CreateNodeExecution(ctx, run.ID, node.ID, order, snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("create node execution for %q: %w", node.Name, err)
	}

	inputs := Inputs{
		WorkflowInput: input,
		NodeOutputs:   copyOutputs(outputs),
		UserID:        userID,
	}

	slog.Debug("executing node", "runId", run.ID, "node", node.Name, "kind", node.Kind, "order", order)

	output, execErr := e.dispatch(ctx, node, inputs)
	completed := time.Now().UTC()

	result := NodeExecutionResult{
		NodeID:      node.ID,
		NodeName:    node.Name,
		Input:       snapshot,
		Order:       order,
		StartedAt:   record.StartedAt,
		CompletedAt: &completed,
	}

	if execErr != nil {
		result.Status = NodeStatusFailed
		result.Error = execErr.Error()
		if err := e.runs.UpdateNodeExecution(ctx, record.ID, NodeStatusFailed, nil, execErr.Error()); err != nil {
			return &result, nil, fmt.Errorf("mark node execution failed for %q: %w", node.Name, err)
		}
		return &result, nil, fmt.Errorf("node %q failed: %w", node.Name, execErr)
	}

	result.Status = NodeStatusCompleted
	result.Output = output
	if err := e.runs.UpdateNodeExecution(ctx, record.ID, NodeStatusCompleted, output, ""); err != nil {
		return &result, nil, fmt.Errorf("mark node execution completed for %q: %w", node.Name, err)
	}
	return &result, output, nil
}

// dispatch resolves and invokes the node's handler. Unknown kinds surface
// here, as handler errors, never during graph validation.
func (e *Engine) dispatch(ctx context.Context, node *Node, inputs Inputs) (map[string]any, error) {
	handler, err := e.registry.Get(node.Kind)
	if err != nil {
		return nil, err
	}
	if err := handler.ValidateConfig(node.Config); err != nil {
		return nil, err
	}
	return handler.Execute(ctx, node.Config, inputs)
}

// nodeDone carries one finished node execution back to the scheduler.
type nodeDone struct {
	nodeID string
	result *NodeExecutionResult
	output map[string]any
	err    error
}

// executeParallel runs nodes as soon as all their graph predecessors have
// completed, fanning independent nodes out to goroutines. After the first
// failure no further node starts; in-flight nodes finish and are recorded.
func (e *Engine) executeParallel(ctx context.Context, run *Run, nodeByID map[string]*Node, edges []Edge, order []string, input map[string]any, userID string) ([]NodeExecutionResult, error) {
	preds := make(map[string][]string, len(order))
	for _, edge := range edges {
		preds[edge.TargetNodeID] = append(preds[edge.TargetNodeID], edge.SourceNodeID)
	}

	var (
		mu        sync.Mutex
		outputs   = make(map[string]map[string]any, len(order))
		completed = make(map[string]bool, len(order))
	)
	started := make(map[string]bool, len(order))
	done := make(chan nodeDone)

	var (
		results  []NodeExecutionResult
		running  int
		nextSlot int
		firstErr error
	)

	ready := func(nodeID string) bool {
		for _, p := range preds[nodeID] {
			if !completed[p] {
				return false
			}
		}
		return true
	}

	for {
		if firstErr == nil {
			for _, nodeID := range order {
				if started[nodeID] {
					continue
				}
				mu.Lock()
				ok := ready(nodeID)
				mu.Unlock()
				if !ok {
					continue
				}

				node := nodeByID[nodeID]
				slot := nextSlot
				nextSlot++
				started[nodeID] = true
				running++

				mu.Lock()
				snapshot := copyOutputs(outputs)
				mu.Unlock()

				go func(node *Node, slot int, snapshot map[string]map[string]any) {
					res, output, err := e.executeNode(ctx, run, node, slot, input, snapshot, userID)
					done <- nodeDone{nodeID: node.ID, result: res, output: output, err: err}
				}(node, slot, snapshot)
			}
		}

		if running == 0 {
			break
		}

		d := <-done
		running--
		if d.result != nil {
			results = append(results, *d.result)
		}
		if d.err != nil {
			if firstErr == nil {
				firstErr = d.err
			}
			continue
		}
		mu.Lock()
		outputs[d.nodeID] = d.output
		completed[d.nodeID] = true
		mu.Unlock()
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Order < results[j].Order })
	return results, firstErr
}

func copyOutputs(outputs map[string]map[string]any) map[string]map[string]any {
	copied := make(map[string]map[string]any, len(outputs))
	for k, v := range outputs {
		copied[k] = v
	}
	return copied
}
