package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	ragerrors "github.com/obsidianrag/obsidianrag/internal/errors"
	"github.com/obsidianrag/obsidianrag/internal/llm"
	"github.com/obsidianrag/obsidianrag/internal/search"
)

// Config tunes the answer pipeline.
type Config struct {
	// UseReranker enables the cross-encoder stage.
	UseReranker bool

	// RerankerTopN caps candidates surviving the rerank stage.
	RerankerTopN int

	// MinScore drops weak retrieved candidates before prompt assembly.
	MinScore float64
}

// Orchestrator runs a question through retrieve, rerank, expand, and
// generate, emitting the event sequence over an unbuffered channel.
type Orchestrator struct {
	retriever *search.Retriever
	reranker  search.Reranker
	expander  *search.Expander
	generator *llm.Client
	config    Config
}

// New creates an orchestrator over the pipeline stages.
func New(retriever *search.Retriever, reranker search.Reranker, expander *search.Expander, generator *llm.Client, cfg Config) *Orchestrator {
	if cfg.RerankerTopN <= 0 {
		cfg.RerankerTopN = 6
	}
	return &Orchestrator{
		retriever: retriever,
		reranker:  reranker,
		expander:  expander,
		generator: generator,
		config:    cfg,
	}
}

// Ask answers a question, streaming events until done or error. The
// channel is unbuffered so a slow consumer backpressures generation;
// cancelling ctx stops the pipeline and closes the channel.
func (o *Orchestrator) Ask(ctx context.Context, question string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		o.run(ctx, question, events)
	}()
	return events
}

// emit sends one event, or reports false when the consumer is gone.
func emit(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) run(ctx context.Context, question string, events chan<- Event) {
	start := time.Now()
	sessionID := uuid.NewString()

	fail := func(err error) {
		category := ragerrors.CategoryOf(err)
		if ctx.Err() != nil {
			category = ragerrors.CategoryClientCancelled
		}
		slog.Error("question_failed",
			slog.String("session_id", sessionID),
			slog.String("category", string(category)),
			slog.String("error", err.Error()))
		emit(ctx, events, Event{EventError, ErrorData{
			Message:  err.Error(),
			Category: string(category),
		}})
	}

	if !emit(ctx, events, Event{EventStart, StartData{SessionID: sessionID}}) {
		return
	}

	// Retrieval stage.
	if !emit(ctx, events, Event{EventPhase, PhaseData{
		Phase:   PhaseRetrieve,
		Message: "Searching notes",
	}}) {
		return
	}
	candidates, err := o.retriever.Retrieve(ctx, question)
	if err != nil {
		fail(err)
		return
	}

	if o.config.UseReranker && len(candidates) > 0 {
		if !emit(ctx, events, Event{EventPhase, PhaseData{
			Phase:   PhaseRerank,
			Message: "Reranking results",
		}}) {
			return
		}
		rescored, err := o.reranker.Rerank(ctx, question, candidates, o.config.RerankerTopN)
		if err != nil {
			// Reranking is an enhancement: fall back to the fused order.
			slog.Warn("rerank_failed_using_fused_order",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			if len(candidates) > o.config.RerankerTopN {
				candidates = candidates[:o.config.RerankerTopN]
			}
		} else {
			candidates = rescored
		}
	} else if len(candidates) > o.config.RerankerTopN {
		candidates = candidates[:o.config.RerankerTopN]
	}

	// The threshold applies to retrieved and reranked candidates only;
	// linked candidates added below carry a fixed score and bypass it.
	totalFound := len(candidates)
	candidates = search.ApplyThreshold(candidates, o.config.MinScore)
	afterFilter := len(candidates)
	candidates = o.expander.Expand(ctx, candidates)

	if !emit(ctx, events, Event{EventRetrievalInfo, RetrievalInfoData{
		TotalFound:  totalFound,
		AfterFilter: afterFilter,
	}}) {
		return
	}

	prompt, contextInfo := o.buildPrompt(question, candidates)
	if !emit(ctx, events, Event{EventContextInfo, contextInfo}) {
		return
	}

	// Generation stage.
	if !emit(ctx, events, Event{EventPhase, PhaseData{
		Phase:   PhaseGenerate,
		Message: "Generating answer",
	}}) {
		return
	}

	first := true
	var emitErr error
	err = o.generator.GenerateStream(ctx, prompt, func(token string) error {
		if first {
			first = false
			if !emit(ctx, events, Event{EventTTFT, TTFTData{
				Seconds: time.Since(start).Seconds(),
			}}) {
				emitErr = context.Canceled
				return emitErr
			}
		}
		if !emit(ctx, events, Event{EventToken, TokenData{Content: token}}) {
			emitErr = context.Canceled
			return emitErr
		}
		return nil
	})
	if err != nil {
		if emitErr != nil {
			return
		}
		fail(err)
		return
	}

	sources := make([]SourceRef, 0, len(candidates))
	for _, c := range candidates {
		sources = append(sources, SourceRef{
			Source:        c.Source,
			Score:         c.Score,
			RetrievalType: string(c.Provenance),
		})
	}
	if !emit(ctx, events, Event{EventSources, SourcesData{Sources: sources}}) {
		return
	}
	emit(ctx, events, Event{EventDone, DoneData{}})

	slog.Info("question_answered",
		slog.String("session_id", sessionID),
		slog.Int("candidates", len(candidates)),
		slog.Duration("duration", time.Since(start)))
}

// buildPrompt assembles the generation prompt from context blocks.
func (o *Orchestrator) buildPrompt(question string, candidates []*search.Candidate) (string, ContextInfoData) {
	info := ContextInfoData{NumDocs: len(candidates)}

	if len(candidates) == 0 {
		prompt := fmt.Sprintf(
			"You are an assistant answering questions about the user's personal notes.\n"+
				"No relevant notes were found for this question. Reply exactly:\n"+
				"\"I could not find this in your notes.\"\n\nQuestion: %s\n\nAnswer:", question)
		return prompt, info
	}

	var sb strings.Builder
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("--- From: %s ---\n%s\n\n", c.Source, c.Text))
	}
	contextBlock := sb.String()
	info.TotalChars = len(contextBlock)

	prompt := fmt.Sprintf(
		"You are an assistant answering questions about the user's personal notes.\n"+
			"Answer using only the context below. If the context does not contain\n"+
			"the answer, say \"I could not find this in your notes.\"\n\n"+
			"Context:\n%s"+
			"Question: %s\n\nAnswer:", contextBlock, question)
	return prompt, info
}

// Answer is the aggregated result of a completed stream, used by the
// non-streaming endpoint. Question and ProcessTime are filled by the
// HTTP handler.
type Answer struct {
	Question    string      `json:"question"`
	Result      string      `json:"result"`
	Sources     []SourceRef `json:"sources"`
	ProcessTime float64     `json:"process_time"`
	SessionID   string      `json:"session_id"`
}

// Collect drains an event stream into an aggregated answer. The
// non-streaming endpoint shares the streaming code path through this.
func Collect(events <-chan Event) (*Answer, error) {
	answer := Answer{Sources: []SourceRef{}}
	var sb strings.Builder

	for e := range events {
		switch e.Type {
		case EventStart:
			if d, ok := e.Data.(StartData); ok {
				answer.SessionID = d.SessionID
			}
		case EventToken:
			if d, ok := e.Data.(TokenData); ok {
				sb.WriteString(d.Content)
			}
		case EventSources:
			if d, ok := e.Data.(SourcesData); ok && d.Sources != nil {
				answer.Sources = d.Sources
			}
		case EventError:
			d := e.Data.(ErrorData)
			return nil, ragerrors.New(ragerrors.Category(d.Category), d.Message, nil)
		}
	}

	answer.Result = sb.String()
	return &answer, nil
}
