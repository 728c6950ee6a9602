package workflow

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping repository tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestRepository_InitSchema(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	err := repo.InitSchema(context.Background())
	require.NoError(t, err)

	// Running again should be idempotent
	err = repo.InitSchema(context.Background())
	require.NoError(t, err)
}

func TestRepository_Seed_Idempotent(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	require.NoError(t, repo.Seed(ctx))
	require.NoError(t, repo.Seed(ctx)) // Second call should not error
}

func TestRepository_GetWorkflow_Seeded(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))
	require.NoError(t, repo.Seed(ctx))

	wf, err := repo.GetWorkflow(ctx, seedWorkflowID, seedUserID)
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, "Resume-Job Match Assistant", wf.Name)

	nodes, err := repo.ListNodes(ctx, seedWorkflowID)
	require.NoError(t, err)
	assert.Len(t, nodes, 4)

	edges, err := repo.ListEdges(ctx, seedWorkflowID)
	require.NoError(t, err)
	assert.Len(t, edges, 3)

	// The seeded chain starts at the vector search node.
	result, err := ValidateGraph(nodes, edges, false)
	require.NoError(t, err)
	require.Len(t, result.StartNodes, 1)
	assert.Equal(t, seedNodeIDs["search"], result.StartNodes[0])
}

func TestRepository_GetWorkflow_NotFound(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	wf, err := repo.GetWorkflow(ctx, "00000000-0000-0000-0000-000000000000", seedUserID)
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestRepository_GetWorkflow_WrongUser(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))
	require.NoError(t, repo.Seed(ctx))

	wf, err := repo.GetWorkflow(ctx, seedWorkflowID, "someone-else")
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestRepository_CreateAndDeleteWorkflow(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	wf := &Workflow{UserID: "repo-test", Name: "temporary"}
	require.NoError(t, repo.CreateWorkflow(ctx, wf))
	require.NotEmpty(t, wf.ID)
	assert.False(t, wf.CreatedAt.IsZero())

	node := &Node{
		WorkflowID: wf.ID,
		Name:       "only",
		Kind:       KindHTTPRequest,
		Config:     map[string]any{"url": "https://example.com"},
	}
	require.NoError(t, repo.CreateNode(ctx, node))

	nodes, err := repo.ListNodes(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "https://example.com", nodes[0].Config["url"])

	deleted, err := repo.DeleteWorkflow(ctx, wf.ID, "repo-test")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Cascade removed the node as well.
	nodes, err = repo.ListNodes(ctx, wf.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestRepository_DuplicateNodeNameRejected(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	wf := &Workflow{UserID: "repo-test", Name: "dupes"}
	require.NoError(t, repo.CreateWorkflow(ctx, wf))
	t.Cleanup(func() { repo.DeleteWorkflow(ctx, wf.ID, "repo-test") })

	first := &Node{WorkflowID: wf.ID, Name: "same", Kind: KindLLMCall, Config: map[string]any{}}
	require.NoError(t, repo.CreateNode(ctx, first))

	second := &Node{WorkflowID: wf.ID, Name: "same", Kind: KindLLMCall, Config: map[string]any{}}
	assert.Error(t, repo.CreateNode(ctx, second))
}

func TestRepository_DuplicateEdgeRejected(t *testing.T) {
	pool := getTestPool(t)
	repo := NewRepository(pool)

	ctx := context.Background()
	require.NoError(t, repo.InitSchema(ctx))

	wf := &Workflow{UserID: "repo-test", Name: "edges"}
	require.NoError(t, repo.CreateWorkflow(ctx, wf))
	t.Cleanup(func() { repo.DeleteWorkflow(ctx, wf.ID, "repo-test") })

	a := &Node{WorkflowID: wf.ID, Name: "a", Kind: KindLLMCall, Config: map[string]any{}}
	b := &Node{WorkflowID: wf.ID, Name: "b", Kind: KindLLMCall, Config: map[string]any{}}
	require.NoError(t, repo.CreateNode(ctx, a))
	require.NoError(t, repo.CreateNode(ctx, b))

	edge := &Edge{WorkflowID: wf.ID, SourceNodeID: a.ID, TargetNodeID: b.ID}
	require.NoError(t, repo.CreateEdge(ctx, edge))

	dup := &Edge{WorkflowID: wf.ID, SourceNodeID: a.ID, TargetNodeID: b.ID}
	assert.Error(t, repo.CreateEdge(ctx, dup))
}
