package workflow

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowforge/api/services/vector"
)

// DefaultUserID is the acting user assumed when a request carries no
// X-User-ID header.
const DefaultUserID = "demo"

// WorkflowRepo abstracts workflow persistence for testability.
type WorkflowRepo interface {
	WorkflowStore
	ListWorkflows(ctx context.Context, userID string) ([]Workflow, error)
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	DeleteWorkflow(ctx context.Context, id, userID string) (bool, error)
	CreateNode(ctx context.Context, n *Node) error
	UpdateNodeConfig(ctx context.Context, id string, config map[string]any) error
	CreateEdge(ctx context.Context, e *Edge) error
}

// RunRepo abstracts run persistence for testability.
type RunRepo interface {
	RunStore
	GetRun(ctx context.Context, runID, userID string) (*Run, error)
	ListRuns(ctx context.Context, workflowID string) ([]Run, error)
	ListNodeExecutions(ctx context.Context, runID string) ([]NodeExecution, error)
}

// Service wires together the repositories and execution engine for the
// workflow domain.
type Service struct {
	repo   WorkflowRepo
	runs   RunRepo
	engine *Engine
}

// NewService creates a Service backed by PostgreSQL, the given text
// generator, and the vector search service.
func NewService(pool *pgxpool.Pool, generator TextGenerator, vectors *vector.Service, opts ...EngineOption) (*Service, error) {
	repo := NewRepository(pool)
	runs := NewRunRepository(pool)
	registry := NewRegistry(
		generator,
		http.DefaultClient,
		&vectorSearcherAdapter{svc: vectors},
		NewPgxExecutor(pool),
	)
	engine := NewEngine(repo, runs, registry, opts...)
	return &Service{repo: repo, runs: runs, engine: engine}, nil
}

// vectorSearcherAdapter exposes the vector service through the handler-facing
// search interface.
type vectorSearcherAdapter struct {
	svc *vector.Service
}

func (a *vectorSearcherAdapter) Search(ctx context.Context, collection, query string, topK int) ([]SearchResult, error) {
	hits, err := a.svc.Search(ctx, collection, query, topK)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchResult{
			Text:     hit.Text,
			Score:    hit.Score,
			Metadata: hit.Metadata,
		})
	}
	return results, nil
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.NewRoute().Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/workflows", s.HandleListWorkflows).Methods("GET")
	router.HandleFunc("/workflows", s.HandleCreateWorkflow).Methods("POST")
	router.HandleFunc("/workflows/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/workflows/{id}", s.HandleDeleteWorkflow).Methods("DELETE")
	router.HandleFunc("/workflows/{id}/nodes/{nodeId}/config", s.HandleUpdateNodeConfig).Methods("PUT")
	router.HandleFunc("/workflows/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")
	router.HandleFunc("/workflows/{id}/runs", s.HandleListRuns).Methods("GET")
	router.HandleFunc("/runs/{id}", s.HandleGetRun).Methods("GET")
}

// actingUser extracts the requesting user, falling back to the demo user.
func actingUser(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return DefaultUserID
}
