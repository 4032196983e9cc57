package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ragerrors "github.com/obsidianrag/obsidianrag/internal/errors"
	"github.com/obsidianrag/obsidianrag/internal/qa"
)

// askRequest is the body of /ask and /ask/stream.
type askRequest struct {
	Text string `json:"text"`
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	category := ragerrors.CategoryOf(err)
	writeJSON(w, statusFor(category), errorResponse{
		Category: string(category),
		Message:  err.Error(),
	})
}

// statusFor maps an error category to its HTTP status.
func statusFor(category ragerrors.Category) int {
	switch category {
	case ragerrors.CategoryMalformedRequest:
		return http.StatusBadRequest
	case ragerrors.CategoryLLMUnavailable, ragerrors.CategoryEmbedderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeQuestion parses and validates an ask body.
func decodeQuestion(r *http.Request) (string, error) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", ragerrors.MalformedRequest("invalid JSON body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ragerrors.MalformedRequest("question text is required")
	}
	return text, nil
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	question, err := decodeQuestion(r)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	answer, err := qa.Collect(s.orchestrator.Ask(r.Context(), question))
	if err != nil {
		writeError(w, err)
		return
	}
	answer.Question = question
	answer.ProcessTime = time.Since(start).Seconds()

	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	question, err := decodeQuestion(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, ragerrors.New(ragerrors.CategoryInternal, "streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The request context cancels the pipeline when the client goes away.
	for event := range s.orchestrator.Ask(r.Context(), question) {
		data, err := json.Marshal(event.Data)
		if err != nil {
			slog.Error("sse_marshal_failed", slog.String("error", err.Error()))
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// rebuildResponse is the /rebuild_db payload.
type rebuildResponse struct {
	Status      string `json:"status"`
	TotalChunks int    `json:"total_chunks"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if _, err := s.indexer.Rebuild(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse{
		Status:      "ok",
		TotalChunks: s.vectors.Count(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, computeStats(s.vectors.All(), s.config.VaultPath))
}
