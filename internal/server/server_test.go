package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianrag/obsidianrag/internal/chunk"
	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/index"
	"github.com/obsidianrag/obsidianrag/internal/llm"
	"github.com/obsidianrag/obsidianrag/internal/qa"
	"github.com/obsidianrag/obsidianrag/internal/search"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

// fakeModelHost streams a fixed completion for any prompt.
func fakeModelHost(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "llama3.1:8b"}},
			})
		case "/api/generate":
			flusher := w.(http.Flusher)
			enc := json.NewEncoder(w)
			for _, tok := range tokens {
				_ = enc.Encode(map[string]any{"response": tok, "done": false})
				flusher.Flush()
			}
			_ = enc.Encode(map[string]any{"response": "", "done": true})
		default:
			http.NotFound(w, r)
		}
	}))
}

func writeNote(t *testing.T, vaultPath, name, content string) {
	t.Helper()
	p := filepath.Join(vaultPath, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// newTestServer indexes a small vault and returns the HTTP surface over
// a stub generator.
func newTestServer(t *testing.T, hostURL string, notes map[string]string) (*httptest.Server, *Server) {
	t.Helper()
	ctx := context.Background()
	vaultPath := t.TempDir()
	for name, content := range notes {
		writeNote(t, vaultPath, name, content)
	}

	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewVectorStore(store.VectorStoreConfig{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)
	bm25, err := store.NewBM25Index()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vectors.Close()
		_ = bm25.Close()
	})

	indexer, err := index.New(vaultPath, chunk.NewChunker(400, 80), embedder, vectors, bm25)
	require.NoError(t, err)
	_, err = indexer.Reindex(ctx)
	require.NoError(t, err)

	generator := llm.NewClient(llm.Config{BaseURL: hostURL, Model: "llama3.1:8b"})
	t.Cleanup(func() { _ = generator.Close() })

	retriever := search.NewRetriever(embedder, vectors, bm25, search.RetrieverConfig{})
	orchestrator := qa.New(retriever, search.NoOpReranker{}, search.NewExpander(vectors), generator, qa.Config{MinScore: 0.1})

	srv := New(Config{VaultPath: vaultPath}, orchestrator, indexer, generator, vectors)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, srv
}

var fixtureNotes = map[string]string{
	"a.md": "Hello greetings note with a link to [[b]].",
	"b.md": "World facts live here.",
}

func TestHealth(t *testing.T) {
	host := fakeModelHost(t, nil)
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "llama3.1:8b", body.Model)
	assert.NotEmpty(t, body.Version)
}

func TestHealthDegradedWhenHostDown(t *testing.T) {
	host := fakeModelHost(t, nil)
	host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
}

func TestStats(t *testing.T) {
	host := fakeModelHost(t, nil)
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, map[string]string{
		"a.md":     "Hello [[b]] linked note.",
		"b.md":     "World note body.",
		"sub/c.md": "Nested note content.",
	})

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body.TotalNotes)
	assert.GreaterOrEqual(t, body.TotalChunks, 3)
	assert.Greater(t, body.TotalWords, 0)
	assert.Greater(t, body.TotalChars, 0)
	assert.Greater(t, body.AvgWordsPerChunk, 0.0)
	assert.Equal(t, 1, body.Folders)
	assert.GreaterOrEqual(t, body.InternalLinks, 1)
	assert.NotEmpty(t, body.VaultPath)
}

func TestStatsEmptyVault(t *testing.T) {
	host := fakeModelHost(t, nil)
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, nil)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Zero(t, body.TotalChunks)
	assert.Zero(t, body.TotalNotes)
}

func TestAsk(t *testing.T) {
	host := fakeModelHost(t, []string{"An", " answer."})
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Post(ts.URL+"/ask", "application/json",
		strings.NewReader(`{"text":"Hello greetings note"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body qa.Answer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Hello greetings note", body.Question)
	assert.Equal(t, "An answer.", body.Result)
	assert.NotEmpty(t, body.SessionID)
	assert.Greater(t, body.ProcessTime, 0.0)
	require.NotEmpty(t, body.Sources)

	sources := make(map[string]string)
	for _, s := range body.Sources {
		sources[s.Source] = s.RetrievalType
	}
	assert.Contains(t, sources, "a.md")
	// a.md links [[b]], so b.md arrives via graph expansion when it is
	// not already retrieved.
	if rt, ok := sources["b.md"]; ok {
		assert.NotEmpty(t, rt)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	host := fakeModelHost(t, nil)
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader(`{"text":"  "}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "malformed_request", body.Category)
}

func TestAskMalformedJSON(t *testing.T) {
	host := fakeModelHost(t, nil)
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskGeneratorOffline(t *testing.T) {
	host := fakeModelHost(t, nil)
	host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Post(ts.URL+"/ask", "application/json", strings.NewReader(`{"text":"anything"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "llm_unavailable", body.Category)
}

// sseEvent is one parsed frame from an event stream.
type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.Name != "" {
				events = append(events, cur)
				cur = sseEvent{}
			}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestAskStreamEventOrder(t *testing.T) {
	host := fakeModelHost(t, []string{"To", "ken", "s."})
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Post(ts.URL+"/ask/stream", "application/json",
		strings.NewReader(`{"text":"Hello greetings note"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := parseSSE(t, resp)
	require.NotEmpty(t, events)

	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	assert.Equal(t, "start", names[0])
	assert.Equal(t, []string{"sources", "done"}, names[len(names)-2:])

	var answer strings.Builder
	for _, e := range events {
		if e.Name == "token" {
			var tok struct {
				Content string `json:"content"`
			}
			require.NoError(t, json.Unmarshal([]byte(e.Data), &tok))
			answer.WriteString(tok.Content)
		}
	}
	assert.Equal(t, "Tokens.", answer.String())

	// start, phase(retrieve), retrieval_info, context_info,
	// phase(generate), ttft, then tokens.
	assert.Equal(t, []string{"start", "phase", "retrieval_info", "context_info", "phase", "ttft", "token"}, names[:7])
}

func TestAskStreamGeneratorOffline(t *testing.T) {
	host := fakeModelHost(t, nil)
	host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Post(ts.URL+"/ask/stream", "application/json",
		strings.NewReader(`{"text":"anything"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := parseSSE(t, resp)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, "error", last.Name)

	var payload struct {
		Category string `json:"category"`
	}
	require.NoError(t, json.Unmarshal([]byte(last.Data), &payload))
	assert.Equal(t, "llm_unavailable", payload.Category)
	for _, e := range events {
		assert.NotEqual(t, "done", e.Name)
	}
}

func TestAskStreamEmptyQuestion(t *testing.T) {
	host := fakeModelHost(t, nil)
	defer host.Close()
	ts, _ := newTestServer(t, host.URL, fixtureNotes)

	resp, err := http.Post(ts.URL+"/ask/stream", "application/json", strings.NewReader(`{"text":""}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRebuildDB(t *testing.T) {
	host := fakeModelHost(t, nil)
	defer host.Close()
	ts, srv := newTestServer(t, host.URL, fixtureNotes)

	before := srv.vectors.Count()
	require.Greater(t, before, 0)

	resp, err := http.Post(ts.URL+"/rebuild_db", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body rebuildResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, before, body.TotalChunks)
}
