package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const defaultUserID = "demo"

// CreateCollectionRequest is the payload for creating a collection or adding
// documents to one.
type CreateCollectionRequest struct {
	Name      string     `json:"name"`
	Documents []Document `json:"documents"`
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers collection HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/collections").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("", s.HandleListCollections).Methods("GET")
	router.HandleFunc("", s.HandleCreateCollection).Methods("POST")
	router.HandleFunc("/{name}/documents", s.HandleAddDocuments).Methods("POST")
	router.HandleFunc("/{name}", s.HandleDeleteCollection).Methods("DELETE")
}

// actingUser extracts the requesting user, falling back to the demo user.
// Collections are stored per user as {userID}_{name}.
func actingUser(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return defaultUserID
}

func scopedName(userID, name string) string {
	return fmt.Sprintf("%s_%s", userID, name)
}

// HandleListCollections returns the acting user's collections with their
// user prefix stripped.
func (s *Service) HandleListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := s.ListCollections()
	if err != nil {
		slog.Error("Failed to list collections", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	prefix := actingUser(r) + "_"
	owned := []CollectionInfo{}
	for _, info := range infos {
		if strings.HasPrefix(info.Name, prefix) {
			info.Name = strings.TrimPrefix(info.Name, prefix)
			owned = append(owned, info)
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(owned)
}

// HandleCreateCollection embeds the given documents into a new collection.
func (s *Service) HandleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	count, err := s.CreateCollection(r.Context(), scopedName(actingUser(r), req.Name), req.Documents)
	if err != nil {
		slog.Error("Failed to create collection", "collection", req.Name, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"name": req.Name, "documentCount": count})
}

// HandleAddDocuments appends documents to an existing collection.
func (s *Service) HandleAddDocuments(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents are required")
		return
	}

	total, err := s.AddDocuments(r.Context(), scopedName(actingUser(r), name), req.Documents)
	if errors.Is(err, ErrCollectionNotFound) {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if err != nil {
		slog.Error("Failed to add documents", "collection", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"name": name, "documentCount": total})
}

// HandleDeleteCollection removes a collection.
func (s *Service) HandleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := s.DeleteCollection(scopedName(actingUser(r), name))
	if errors.Is(err, ErrCollectionNotFound) {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if err != nil {
		slog.Error("Failed to delete collection", "collection", name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
