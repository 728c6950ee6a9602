package workflow

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// WorkflowDetail is the full definition returned by the workflow read API.
type WorkflowDetail struct {
	Workflow
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// CreateWorkflowRequest is the payload for creating a workflow with its
// graph in one call. Edges reference nodes by name.
type CreateWorkflowRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Nodes       []CreateNodeRequest `json:"nodes"`
	Edges       []CreateEdgeRequest `json:"edges"`
}

type CreateNodeRequest struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	Config   map[string]any `json:"config"`
	Position Position       `json:"position"`
}

type CreateEdgeRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// HandleListWorkflows returns the acting user's workflows.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.repo.ListWorkflows(r.Context(), actingUser(r))
	if err != nil {
		slog.Error("Failed to list workflows", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if workflows == nil {
		workflows = []Workflow{}
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(workflows)
}

// HandleGetWorkflow loads a workflow definition with its nodes and edges.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Getting workflow", "id", id)

	wf, err := s.repo.GetWorkflow(r.Context(), id, actingUser(r))
	if err != nil {
		slog.Error("Failed to get workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	nodes, err := s.repo.ListNodes(r.Context(), id)
	if err != nil {
		slog.Error("Failed to list nodes", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	edges, err := s.repo.ListEdges(r.Context(), id)
	if err != nil {
		slog.Error("Failed to list edges", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if nodes == nil {
		nodes = []Node{}
	}
	if edges == nil {
		edges = []Edge{}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(WorkflowDetail{Workflow: *wf, Nodes: nodes, Edges: edges})
}

// HandleCreateWorkflow creates a workflow together with its nodes and edges.
func (s *Service) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	userID := actingUser(r)
	wf := &Workflow{UserID: userID, Name: req.Name, Description: req.Description}
	if err := s.repo.CreateWorkflow(r.Context(), wf); err != nil {
		slog.Error("Failed to create workflow", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	nodeIDs := make(map[string]string, len(req.Nodes))
	nodes := make([]Node, 0, len(req.Nodes))
	for _, nr := range req.Nodes {
		if nr.Name == "" || nr.Kind == "" {
			writeError(w, http.StatusBadRequest, "node name and kind are required")
			return
		}
		if _, dup := nodeIDs[nr.Name]; dup {
			writeError(w, http.StatusBadRequest, "duplicate node name: "+nr.Name)
			return
		}
		node := Node{
			WorkflowID: wf.ID,
			Name:       nr.Name,
			Kind:       nr.Kind,
			Config:     nr.Config,
			Position:   nr.Position,
		}
		if node.Config == nil {
			node.Config = map[string]any{}
		}
		if err := s.repo.CreateNode(r.Context(), &node); err != nil {
			slog.Error("Failed to create node", "workflow", wf.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		nodeIDs[node.Name] = node.ID
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(req.Edges))
	for _, er := range req.Edges {
		sourceID, ok := nodeIDs[er.Source]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown edge source: "+er.Source)
			return
		}
		targetID, ok := nodeIDs[er.Target]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown edge target: "+er.Target)
			return
		}
		edge := Edge{WorkflowID: wf.ID, SourceNodeID: sourceID, TargetNodeID: targetID}
		if err := s.repo.CreateEdge(r.Context(), &edge); err != nil {
			slog.Error("Failed to create edge", "workflow", wf.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		edges = append(edges, edge)
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(WorkflowDetail{Workflow: *wf, Nodes: nodes, Edges: edges})
}

// HandleDeleteWorkflow removes a workflow and its dependent rows.
func (s *Service) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	deleted, err := s.repo.DeleteWorkflow(r.Context(), id, actingUser(r))
	if err != nil {
		slog.Error("Failed to delete workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdateNodeConfig replaces one node's config mapping.
func (s *Service) HandleUpdateNodeConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflowID, nodeID := vars["id"], vars["nodeId"]

	var config map[string]any
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.repo.GetWorkflow(r.Context(), workflowID, actingUser(r))
	if err != nil {
		slog.Error("Failed to get workflow", "id", workflowID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	nodes, err := s.repo.ListNodes(r.Context(), workflowID)
	if err != nil {
		slog.Error("Failed to list nodes", "id", workflowID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	found := false
	for _, n := range nodes {
		if n.ID == nodeID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}

	if err := s.repo.UpdateNodeConfig(r.Context(), nodeID, config); err != nil {
		slog.Error("Failed to update node config", "node", nodeID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleExecuteWorkflow validates the workflow graph, runs it node by node,
// and returns the per-node results. Graph problems are reported before a run
// record is created; node failures come back in the result with a failed
// status.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Executing workflow", "id", id)

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.engine.Execute(r.Context(), id, actingUser(r), req.Input)
	if err != nil {
		var validationErr *ValidationError
		switch {
		case errors.Is(err, ErrWorkflowNotFound):
			writeError(w, http.StatusNotFound, "workflow not found")
		case errors.Is(err, ErrEmptyWorkflow):
			writeError(w, http.StatusBadRequest, "workflow has no nodes")
		case errors.As(err, &validationErr):
			writeError(w, http.StatusBadRequest, validationErr.Error())
		default:
			slog.Error("Workflow execution failed", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// HandleGetRun returns a run with its node executions.
func (s *Service) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := s.runs.GetRun(r.Context(), id, actingUser(r))
	if err != nil {
		slog.Error("Failed to get run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	executions, err := s.runs.ListNodeExecutions(r.Context(), id)
	if err != nil {
		slog.Error("Failed to list node executions", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if executions == nil {
		executions = []NodeExecution{}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"run":            run,
		"nodeExecutions": executions,
	})
}

// HandleListRuns returns a workflow's run history, newest first.
func (s *Service) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	wf, err := s.repo.GetWorkflow(r.Context(), id, actingUser(r))
	if err != nil {
		slog.Error("Failed to get workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wf == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), id)
	if err != nil {
		slog.Error("Failed to list runs", "workflow", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if runs == nil {
		runs = []Run{}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(runs)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
