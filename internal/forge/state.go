// Package forge orchestrates question generation: topic selection, document
// retrieval, prompt assembly, the model call, validation, diversity gating,
// and the hybrid retry schedule that ties them together.
package forge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"mcqforge/internal/mcq"
	"mcqforge/internal/vectorsearch"
)

// Recoverable and fatal conditions of the retry controller. Only
// ErrRetriesExhausted (and curriculum.ErrConfiguration) cross the package
// boundary; the rest are consumed by the retry schedule.
var (
	// ErrValidation reports a structurally invalid generated item.
	ErrValidation = errors.New("forge: generated item failed validation")
	// ErrDiversityCap reports an item whose feature is already at its
	// batch cap. The item is discarded without recording.
	ErrDiversityCap = errors.New("forge: diversity cap exceeded")
	// ErrRetriesExhausted reports an item abandoned after the retry cap.
	// It is fatal for the item but not for a surrounding batch.
	ErrRetriesExhausted = errors.New("forge: retries exhausted")
)

// State is the mutable record threaded through one generation attempt. It is
// created fresh per requested item and discarded once the item is accepted
// or abandoned. Its JSON form is the checkpoint schema.
type State struct {
	SessionID          string                  `json:"session_id"`
	SelectedPart       string                  `json:"selected_part"`
	SelectedChapter    string                  `json:"selected_chapter"`
	TopicQuery         string                  `json:"topic_query"`
	RetrievedDocuments []vectorsearch.Document `json:"retrieved_documents,omitempty"`
	FormattedContext   string                  `json:"formatted_context,omitempty"`
	GeneratedItem      *mcq.Item               `json:"generated_item,omitempty"`
	IsValid            bool                    `json:"is_valid"`
	ValidationErrors   []string                `json:"validation_errors,omitempty"`
	RetryCount         int                     `json:"retry_count"`
	MaxRetries         int                     `json:"max_retries"`
	ShouldRetry        bool                    `json:"should_retry"`
}

// NewState returns a fresh per-item state.
func NewState(maxRetries int) *State {
	return &State{
		SessionID:  uuid.NewString(),
		MaxRetries: maxRetries,
	}
}

// Save writes the state as a JSON checkpoint.
func (s *State) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, s.SessionID+".json"), data, 0o644)
}

// LoadState reads a checkpoint written by Save.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return &st, nil
}

// outcome is the terminal decision after one attempt.
type outcome int

const (
	outcomeRetryRetrieve outcome = iota // re-sample documents, same topic
	outcomeRetryNewTopic                // abandon the topic, pick a new one
	outcomeAbort                        // give up on this item
)

func (o outcome) String() string {
	switch o {
	case outcomeRetryRetrieve:
		return "RETRY_RETRIEVE"
	case outcomeRetryNewTopic:
		return "RETRY_NEW_TOPIC"
	case outcomeAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// nextAfterFailure implements the hybrid retry schedule: quick same-topic
// retries while retryCount stays within quickRetries, one escalation to a
// fresh topic on the failure right after, and abort past maxRetries. Most
// failures are transient (a poor document sample), so the cheap path comes
// first; a topic that keeps failing is assumed unproductive and re-rolled
// once before giving up.
func nextAfterFailure(retryCount, quickRetries, maxRetries int) outcome {
	switch {
	case retryCount > maxRetries:
		return outcomeAbort
	case retryCount == quickRetries+1:
		return outcomeRetryNewTopic
	default:
		return outcomeRetryRetrieve
	}
}
