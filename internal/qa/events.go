// Package qa orchestrates a question through retrieval and generation,
// emitting the ordered event stream the HTTP layer relays as SSE.
package qa

// EventType names an event in the answer stream.
type EventType string

const (
	EventStart         EventType = "start"
	EventPhase         EventType = "phase"
	EventRetrievalInfo EventType = "retrieval_info"
	EventContextInfo   EventType = "context_info"
	EventTTFT          EventType = "ttft"
	EventToken         EventType = "token"
	EventSources       EventType = "sources"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Pipeline phases announced via phase events.
const (
	PhaseRetrieve = "retrieve"
	PhaseRerank   = "rerank"
	PhaseGenerate = "generate"
)

// Event is one element of the answer stream. Data is the JSON payload.
type Event struct {
	Type EventType
	Data any
}

// StartData opens every stream.
type StartData struct {
	SessionID string `json:"session_id"`
}

// PhaseData announces a pipeline stage transition.
type PhaseData struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// RetrievalInfoData reports candidate counts before and after the score
// threshold.
type RetrievalInfoData struct {
	TotalFound  int `json:"total_found"`
	AfterFilter int `json:"after_filter"`
}

// ContextInfoData reports the size of the context handed to the generator.
type ContextInfoData struct {
	NumDocs    int `json:"num_docs"`
	TotalChars int `json:"total_chars"`
}

// TTFTData reports seconds from question receipt to first token.
type TTFTData struct {
	Seconds float64 `json:"seconds"`
}

// TokenData carries one generated text fragment.
type TokenData struct {
	Content string `json:"content"`
}

// SourceRef is one context source as reported to the client.
type SourceRef struct {
	Source        string  `json:"source"`
	Score         float64 `json:"score"`
	RetrievalType string  `json:"retrieval_type"`
}

// SourcesData lists the sources that informed the answer.
type SourcesData struct {
	Sources []SourceRef `json:"sources"`
}

// DoneData closes a successful stream.
type DoneData struct{}

// ErrorData closes a failed stream in place of sources and done.
type ErrorData struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}
