package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*mux.Router, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router, svc
}

func TestHandleCreateCollection(t *testing.T) {
	router, svc := newTestRouter(t)

	body, _ := json.Marshal(CreateCollectionRequest{
		Name:      "docs",
		Documents: []Document{{Text: "go concurrency"}, {Text: "cooking pasta"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Equal(t, "docs", payload["name"])
	assert.Equal(t, float64(2), payload["documentCount"])

	// Stored under the demo user's prefix.
	infos, err := svc.ListCollections()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "demo_docs", infos[0].Name)
}

func TestHandleCreateCollectionRequiresName(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListCollectionsScopedToUser(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.CreateCollection(context.Background(), "demo_mine", []Document{{Text: "go concurrency"}})
	require.NoError(t, err)
	_, err = svc.CreateCollection(context.Background(), "alice_hers", []Document{{Text: "cooking pasta"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collections", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var infos []CollectionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "mine", infos[0].Name)
}

func TestHandleAddDocuments(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.CreateCollection(context.Background(), "demo_docs", []Document{{Text: "go concurrency"}})
	require.NoError(t, err)

	body, _ := json.Marshal(CreateCollectionRequest{Documents: []Document{{Text: "goroutines"}}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections/docs/documents", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Equal(t, float64(2), payload["documentCount"])
}

func TestHandleAddDocumentsUnknownCollection(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(CreateCollectionRequest{Documents: []Document{{Text: "x"}}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections/ghost/documents", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteCollection(t *testing.T) {
	router, svc := newTestRouter(t)

	_, err := svc.CreateCollection(context.Background(), "demo_docs", []Document{{Text: "go concurrency"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/collections/docs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/collections/docs", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
