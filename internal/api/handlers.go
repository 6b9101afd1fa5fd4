package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	derrors "github.com/docfusion/docfusion/internal/errors"
	"github.com/docfusion/docfusion/internal/search"
	"github.com/docfusion/docfusion/internal/store"
)

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query         string   `json:"query"`
	Mode          string   `json:"mode,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	VectorWeight  *float64 `json:"vector_weight,omitempty"`
	KeywordWeight *float64 `json:"keyword_weight,omitempty"`
}

// SearchHit is one result in a SearchResponse.
type SearchHit struct {
	ChunkID      string             `json:"chunk_id"`
	DocumentID   string             `json:"document_id"`
	Text         string             `json:"text"`
	Page         int                `json:"page,omitempty"`
	Section      string             `json:"section,omitempty"`
	Score        float64            `json:"score"`
	Ranks        map[string]int     `json:"ranks,omitempty"`
	RawScores    map[string]float64 `json:"raw_scores,omitempty"`
	MatchedTerms []string           `json:"matched_terms,omitempty"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Query   string      `json:"query"`
	Mode    string      `json:"mode"`
	Results []SearchHit `json:"results"`
}

// IngestRequest is the body of POST /v1/documents.
type IngestRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.config.Version})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	mode, err := search.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := search.Options{Mode: mode, TopK: s.config.DefaultTopK}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.VectorWeight != nil || req.KeywordWeight != nil {
		weights := search.DefaultWeights()
		if req.VectorWeight != nil {
			weights.Vector = *req.VectorWeight
		}
		if req.KeywordWeight != nil {
			weights.Keyword = *req.KeywordWeight
		}
		opts.Weights = &weights
	}

	results, err := s.retriever.Retrieve(r.Context(), req.Query, opts)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}

	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, SearchHit{
			ChunkID:      res.Chunk.ID,
			DocumentID:   res.Chunk.DocumentID,
			Text:         res.Chunk.Text,
			Page:         res.Chunk.Page,
			Section:      res.Chunk.Section,
			Score:        res.Score,
			Ranks:        res.Ranks,
			RawScores:    res.RawScores,
			MatchedTerms: res.MatchedTerms,
		})
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Query:   req.Query,
		Mode:    string(mode),
		Results: hits,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.retriever.Stats()
	resp := map[string]any{
		"vector_count": stats.VectorCount,
	}
	if stats.KeywordStats != nil {
		resp["keyword_chunks"] = stats.KeywordStats.ChunkCount
		resp["keyword_terms"] = stats.KeywordStats.TermCount
		resp["keyword_avg_doc_length"] = stats.KeywordStats.AvgDocLength
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusNotFound, "consistency checking not configured")
		return
	}
	result, err := s.checker.Check(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	issues := make([]map[string]string, 0, len(result.Inconsistencies))
	for _, i := range result.Inconsistencies {
		issues = append(issues, map[string]string{
			"type":     i.Type.String(),
			"chunk_id": i.ChunkID,
			"details":  i.Details,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checked":         result.Checked,
		"consistent":      len(result.Inconsistencies) == 0,
		"inconsistencies": issues,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	stats, err := s.pipeline.IngestPath(r.Context(), req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{
		"documents": stats.Documents,
		"chunks":    stats.Chunks,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.metadata.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}
	if _, err := s.metadata.GetDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err := s.retriever.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.metadata.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.NewString(),
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.metadata.SaveConversation(r.Context(), conv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.metadata.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role != "user" && req.Role != "assistant" {
		writeError(w, http.StatusBadRequest, "role must be 'user' or 'assistant'")
		return
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           req.Role,
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.metadata.SaveMessage(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	msgs, err := s.metadata.GetMessages(r.Context(), convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// writeRetrievalError maps the error taxonomy onto HTTP status codes.
func writeRetrievalError(w http.ResponseWriter, err error) {
	var derr *derrors.Error
	if errors.As(err, &derr) {
		switch derr.Code {
		case derrors.ErrCodeInvalidInput:
			writeError(w, http.StatusBadRequest, derr.Message)
			return
		case derrors.ErrCodeRetrievalFailed, derrors.ErrCodeNetworkTimeout:
			writeError(w, http.StatusServiceUnavailable, derr.Message)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
