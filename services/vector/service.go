package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrCollectionNotFound signals a search or delete against a collection that
// was never created.
var ErrCollectionNotFound = errors.New("collection not found")

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Document is one entry added to a collection.
type Document struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is one ranked similarity-search hit.
type Result struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CollectionInfo describes a stored collection.
type CollectionInfo struct {
	Name          string `json:"name"`
	DocumentCount int    `json:"documentCount"`
}

type storedDocument struct {
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding"`
}

type collection struct {
	Name      string           `json:"name"`
	Documents []storedDocument `json:"documents"`
}

// Service stores embedded document collections on disk and serves similarity
// searches over them. It is constructed explicitly and injected where needed;
// loaded collections live in an in-process cache, and writes are serialized
// per collection so a persisted index is never corrupted by concurrent adds.
type Service struct {
	baseDir  string
	embedder Embedder
	cache    *gocache.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a Service persisting collections under baseDir.
func NewService(baseDir string, embedder Embedder) (*Service, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector data dir: %w", err)
	}
	return &Service{
		baseDir:  baseDir,
		embedder: embedder,
		cache:    gocache.New(gocache.NoExpiration, 10*time.Minute),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// writeLock returns the per-collection mutex, creating it on first use.
func (s *Service) writeLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func (s *Service) path(name string) string {
	return filepath.Join(s.baseDir, name+".json")
}

func validName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// CreateCollection embeds the given documents and persists them as a new
// collection, replacing any previous collection of the same name.
func (s *Service) CreateCollection(ctx context.Context, name string, docs []Document) (int, error) {
	if err := validName(name); err != nil {
		return 0, err
	}

	stored, err := s.embedAll(ctx, docs)
	if err != nil {
		return 0, err
	}

	lock := s.writeLock(name)
	lock.Lock()
	defer lock.Unlock()

	col := &collection{Name: name, Documents: stored}
	if err := s.save(col); err != nil {
		return 0, err
	}
	s.cache.Set(name, col, gocache.NoExpiration)

	slog.Info("vector collection created", "collection", name, "documents", len(stored))
	return len(stored), nil
}

// AddDocuments embeds and appends documents to an existing collection.
func (s *Service) AddDocuments(ctx context.Context, name string, docs []Document) (int, error) {
	if err := validName(name); err != nil {
		return 0, err
	}

	stored, err := s.embedAll(ctx, docs)
	if err != nil {
		return 0, err
	}

	lock := s.writeLock(name)
	lock.Lock()
	defer lock.Unlock()

	col, err := s.load(name)
	if err != nil {
		return 0, err
	}
	col.Documents = append(col.Documents, stored...)
	if err := s.save(col); err != nil {
		return 0, err
	}
	s.cache.Set(name, col, gocache.NoExpiration)

	return len(col.Documents), nil
}

// Search embeds the query and returns the topK documents ranked by cosine
// similarity. Reads may run concurrently; the collection is loaded through
// the cache.
func (s *Service) Search(ctx context.Context, name, query string, topK int) ([]Result, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	col, err := s.load(name)
	if err != nil {
		return nil, err
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results := make([]Result, 0, len(col.Documents))
	for _, doc := range col.Documents {
		results = append(results, Result{
			Text:     doc.Text,
			Score:    cosineSimilarity(queryEmbedding, doc.Embedding),
			Metadata: doc.Metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteCollection removes a collection from cache and disk.
func (s *Service) DeleteCollection(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	lock := s.writeLock(name)
	lock.Lock()
	defer lock.Unlock()

	s.cache.Delete(name)
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return ErrCollectionNotFound
	}
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// ListCollections enumerates the collections on disk.
func (s *Service) ListCollections() ([]CollectionInfo, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read vector data dir: %w", err)
	}

	var infos []CollectionInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		name := entry.Name()[:len(entry.Name())-len(".json")]
		col, err := s.load(name)
		if err != nil {
			slog.Warn("skipping unreadable collection", "collection", name, "error", err)
			continue
		}
		infos = append(infos, CollectionInfo{Name: name, DocumentCount: len(col.Documents)})
	}
	return infos, nil
}

func (s *Service) embedAll(ctx context.Context, docs []Document) ([]storedDocument, error) {
	stored := make([]storedDocument, 0, len(docs))
	for _, doc := range docs {
		embedding, err := s.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return nil, fmt.Errorf("embed document: %w", err)
		}
		stored = append(stored, storedDocument{
			Text:      doc.Text,
			Metadata:  doc.Metadata,
			Embedding: embedding,
		})
	}
	return stored, nil
}

// load returns the cached collection, falling back to disk.
func (s *Service) load(name string) (*collection, error) {
	if cached, ok := s.cache.Get(name); ok {
		return cached.(*collection), nil
	}

	raw, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}

	var col collection
	if err := json.Unmarshal(raw, &col); err != nil {
		return nil, fmt.Errorf("decode collection %q: %w", name, err)
	}
	s.cache.Set(name, &col, gocache.NoExpiration)
	return &col, nil
}

// save writes the collection atomically: temp file then rename.
func (s *Service) save(col *collection) error {
	raw, err := json.Marshal(col)
	if err != nil {
		return fmt.Errorf("encode collection %q: %w", col.Name, err)
	}

	tmp := s.path(col.Name) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write collection: %w", err)
	}
	if err := os.Rename(tmp, s.path(col.Name)); err != nil {
		return fmt.Errorf("persist collection: %w", err)
	}
	return nil
}

// cosineSimilarity scores two vectors in [0,1]; negative similarity clamps
// to zero so scores stay comparable to configured thresholds.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return math.Max(0, dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}
