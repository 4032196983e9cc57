// Package errors provides the structured error type surfaced to clients
// and the retry helpers used by the embedding and generation clients.
package errors

import (
	"errors"
	"fmt"
)

// Category identifies the failure class surfaced to clients.
// Categories map one-to-one onto the wire-level error payloads.
type Category string

const (
	CategoryVaultMissing         Category = "vault_missing"
	CategoryEmbedderUnavailable  Category = "embedder_unavailable"
	CategoryLLMUnavailable       Category = "llm_unavailable"
	CategoryStreamBroken         Category = "generation_stream_broken"
	CategoryIndexingFileFailed   Category = "indexing_file_failed"
	CategoryMalformedRequest     Category = "malformed_request"
	CategoryClientCancelled      Category = "client_cancelled"
	CategoryInternal             Category = "internal"
)

// RAGError is the structured error type for the QA pipeline.
type RAGError struct {
	// Category is the failure class reported to the client.
	Category Category

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is matches RAGErrors by category so errors.Is works across wrapping.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Category == t.Category
	}
	return false
}

// New creates a RAGError with the given category and message.
func New(category Category, message string, cause error) *RAGError {
	return &RAGError{
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}

// EmbedderUnavailable creates an embedder failure error.
func EmbedderUnavailable(message string, cause error) *RAGError {
	return New(CategoryEmbedderUnavailable, message, cause)
}

// LLMUnavailable creates a generator failure error.
func LLMUnavailable(message string, cause error) *RAGError {
	return New(CategoryLLMUnavailable, message, cause)
}

// StreamBroken creates an error for a generation stream that terminated
// abnormally after having begun producing tokens.
func StreamBroken(message string, cause error) *RAGError {
	return New(CategoryStreamBroken, message, cause)
}

// MalformedRequest creates a client input validation error.
func MalformedRequest(message string) *RAGError {
	return New(CategoryMalformedRequest, message, nil)
}

// CategoryOf extracts the category from an error chain.
// Returns CategoryInternal for errors that are not RAGErrors.
func CategoryOf(err error) Category {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Category
	}
	return CategoryInternal
}
