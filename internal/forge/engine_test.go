package forge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcqforge/config"
	"mcqforge/internal/curriculum"
	"mcqforge/internal/diversity"
	"mcqforge/internal/vectorsearch"
)

// stubSearcher records queries and returns a fixed pool.
type stubSearcher struct {
	mu      sync.Mutex
	queries []string
	docs    []vectorsearch.Document
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int) ([]vectorsearch.Document, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if topK > len(s.docs) {
		topK = len(s.docs)
	}
	return s.docs[:topK], nil
}

func (s *stubSearcher) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

// stubLLM replays scripted responses, repeating the last one, and keeps
// every prompt it was given.
type stubLLM struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (s *stubLLM) Complete(ctx context.Context, systemMessage, userPrompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, userPrompt)
	idx := len(s.prompts) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *stubLLM) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *stubLLM) prompt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

func testDocs(part, chapter string, n int) []vectorsearch.Document {
	docs := make([]vectorsearch.Document, n)
	for i := range docs {
		docs[i] = vectorsearch.Document{
			ID:   fmt.Sprintf("doc-%02d", i),
			Text: fmt.Sprintf("study material %d", i),
			Metadata: map[string]interface{}{
				"part":    part,
				"chapter": chapter,
			},
		}
	}
	return docs
}

func itemJSON(question string) string {
	return fmt.Sprintf(`{
		"question": %q,
		"options": ["Defibrillate immediately", "Give amiodarone first", "Start transcutaneous pacing", "Synchronized cardioversion"],
		"answer_index": 1,
		"explanation": "Shockable rhythms get defibrillated before anything else."
	}`, question)
}

func newTestEngine(searcher vectorsearch.Searcher, model *stubLLM, trackers []diversity.Tracker, spec curriculum.Spec) *Engine {
	if spec == nil {
		spec = curriculum.Spec{
			"Part 5": {"VF and Pulseless VT", "Asystole and PEA", "Post-Cardiac Arrest Care"},
		}
	}
	return NewEngine(Options{
		Selector: curriculum.NewSelectorWithSource(rand.NewSource(1)),
		Spec:     spec,
		Searcher: searcher,
		LLM:      model,
		Trackers: trackers,
		Retrieval: config.RetrievalConfig{
			PoolSize:        20,
			SampleK:         7,
			RecentDocuments: 20,
		},
		Generation: config.GenerationConfig{
			MaxRetries:     7,
			QuickRetries:   5,
			RecentChapters: 3,
			RequestTimeout: 5,
			Instruction:    "Write one question.",
		},
	})
}

func TestGenerateBatch_AcceptsValidItem(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{itemJSON("Which rhythm is shockable?")}}
	e := newTestEngine(searcher, model, nil, nil)

	items, err := e.GenerateBatch(context.Background(), 1, "", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Result)

	res := items[0].Result
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "Part 5", res.Part)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "Which rhythm is shockable?", res.Item.Question)

	stats := e.Stats()
	assert.Equal(t, 1, stats.TotalGenerated)
	assert.Equal(t, 1, stats.ByPart["Part 5"])
	assert.Len(t, e.History(), 1)
}

// A topic is held for the quick retries, re-rolled exactly once after the
// escalation failure, then the item aborts past the retry cap.
func TestGenerateBatch_EscalatesOnceThenAborts(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{"this is not json"}}
	e := newTestEngine(searcher, model, nil, nil)

	items, err := e.GenerateBatch(context.Background(), 1, "", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Result)
	assert.Contains(t, items[0].SkipReason, "retries exhausted")

	queries := searcher.recorded()
	// MaxRetries 7 allows exactly 8 attempts.
	require.Len(t, queries, 8)
	// Attempts 1-6 keep the first topic.
	for i := 1; i < 6; i++ {
		assert.Equal(t, queries[0], queries[i], "attempt %d changed topic during quick retries", i+1)
	}
	// Attempts 7-8 share the re-rolled topic.
	assert.Equal(t, queries[6], queries[7])
}

// With a rhythm cap of 2 and a model stuck on the same rhythm, a batch of
// ten yields exactly two accepted items; every later slot exhausts its
// retries and is skipped.
func TestGenerateBatch_RhythmCapLimitsAcceptance(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{itemJSON("The monitor shows ventricular fibrillation. First action?")}}
	trackers := []diversity.Tracker{diversity.NewRhythmTracker(2)}
	e := newTestEngine(searcher, model, trackers, nil)

	items, err := e.GenerateBatch(context.Background(), 10, "", nil)
	require.NoError(t, err)
	require.Len(t, items, 10)

	accepted := 0
	for i, it := range items {
		if it.Result != nil {
			accepted++
			continue
		}
		assert.Contains(t, it.SkipReason, "retries exhausted", "item %d", i)
	}
	assert.Equal(t, 2, accepted)
	assert.NotNil(t, items[0].Result)
	assert.NotNil(t, items[1].Result)
}

func TestGenerateBatch_InjectsDiversityStatus(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{itemJSON("The monitor shows ventricular fibrillation. First action?")}}
	trackers := []diversity.Tracker{diversity.NewRhythmTracker(3)}
	e := newTestEngine(searcher, model, trackers, nil)

	_, err := e.GenerateBatch(context.Background(), 2, "", nil)
	require.NoError(t, err)
	require.Equal(t, 2, model.promptCount())

	assert.NotContains(t, model.prompt(0), "Rhythms already used")
	second := model.prompt(1)
	assert.Contains(t, second, "Rhythms already used in this batch:")
	assert.Contains(t, second, "VF: used 1 times")
}

func TestGenerateBatch_UserTopicAttributesScope(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 6", "Transcutaneous Pacing", 20)}
	model := &stubLLM{responses: []string{itemJSON("When is pacing indicated?")}}
	e := newTestEngine(searcher, model, nil, nil)

	items, err := e.GenerateBatch(context.Background(), 1, "pacing for symptomatic bradycardia", nil)
	require.NoError(t, err)
	require.NotNil(t, items[0].Result)

	res := items[0].Result
	assert.Equal(t, "pacing for symptomatic bradycardia", res.Query)
	assert.Equal(t, "Part 6", res.Part)
	assert.Equal(t, "Transcutaneous Pacing", res.Chapter)
	assert.Equal(t, []string{"pacing for symptomatic bradycardia"}, searcher.recorded())
}

func TestGenerateBatch_EmptySearchIsRecoverable(t *testing.T) {
	searcher := &stubSearcher{}
	model := &stubLLM{responses: []string{itemJSON("unused")}}
	e := newTestEngine(searcher, model, nil, nil)

	items, err := e.GenerateBatch(context.Background(), 1, "", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Result)
	assert.Contains(t, items[0].SkipReason, "retries exhausted")
	assert.Equal(t, 0, model.promptCount())
}

func TestGenerateBatch_ConfigurationErrorIsFatal(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{itemJSON("unused")}}
	e := newTestEngine(searcher, model, nil, curriculum.Spec{})

	items, err := e.GenerateBatch(context.Background(), 3, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, curriculum.ErrConfiguration))
	assert.Empty(t, items)
}

func TestGenerateBatch_ContextCancelled(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{itemJSON("unused")}}
	e := newTestEngine(searcher, model, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := e.GenerateBatch(ctx, 3, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, items)
}

func TestGenerateBatch_RetriesRecoverValidationFailure(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{
		`{"question": "Q?", "options": ["a", "b", "c"], "answer_index": 1, "explanation": "e"}`,
		itemJSON("Which rhythm is shockable?"),
	}}
	e := newTestEngine(searcher, model, nil, nil)

	items, err := e.GenerateBatch(context.Background(), 1, "", nil)
	require.NoError(t, err)
	require.NotNil(t, items[0].Result)
	assert.Equal(t, 2, items[0].Result.Attempts)
}

// slowThenGoodLLM blocks past the per-call deadline on its first call and
// answers normally afterwards.
type slowThenGoodLLM struct {
	mu       sync.Mutex
	calls    int
	response string
}

func (s *slowThenGoodLLM) Complete(ctx context.Context, systemMessage, userPrompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.response, nil
}

// A model call that runs past the per-call deadline is a recoverable
// failure like any other: the item retries on the same topic instead of
// aborting the batch.
func TestGenerateBatch_CallTimeoutRetriesQuickly(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &slowThenGoodLLM{response: itemJSON("Which rhythm is shockable?")}
	e := NewEngine(Options{
		Selector: curriculum.NewSelectorWithSource(rand.NewSource(1)),
		Spec:     curriculum.Spec{"Part 5": {"VF and Pulseless VT"}},
		Searcher: searcher,
		LLM:      model,
		Retrieval: config.RetrievalConfig{
			PoolSize:        20,
			SampleK:         7,
			RecentDocuments: 20,
		},
		Generation: config.GenerationConfig{
			MaxRetries:     7,
			QuickRetries:   5,
			RecentChapters: 3,
			RequestTimeout: 1,
			Instruction:    "Write one question.",
		},
	})

	items, err := e.GenerateBatch(context.Background(), 1, "", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Result)
	assert.Equal(t, 2, items[0].Result.Attempts)

	// Both attempts kept the same topic, so the timeout fell on the
	// quick-retry path rather than a topic re-roll.
	queries := searcher.recorded()
	require.Len(t, queries, 2)
	assert.Equal(t, queries[0], queries[1])
}

func TestGenerateBatch_ProgressEvents(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{itemJSON("Which rhythm is shockable?")}}
	e := newTestEngine(searcher, model, nil, nil)

	var types []string
	_, err := e.GenerateBatch(context.Background(), 2, "", func(ev ProgressEvent) {
		types = append(types, ev.Type)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item", "item", "done"}, types)
}

func TestGenerate_SingleItem(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{itemJSON("Which rhythm is shockable?")}}
	e := newTestEngine(searcher, model, nil, nil)

	res, err := e.Generate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Which rhythm is shockable?", res.Item.Question)
}

func TestGenerate_ExhaustedReturnsError(t *testing.T) {
	searcher := &stubSearcher{docs: testDocs("Part 5", "VF and Pulseless VT", 20)}
	model := &stubLLM{responses: []string{"garbage"}}
	e := newTestEngine(searcher, model, nil, nil)

	_, err := e.Generate(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
}

func TestFormatContext_NumbersDocuments(t *testing.T) {
	docs := testDocs("Part 5", "VF and Pulseless VT", 2)
	got := formatContext(docs)

	assert.True(t, strings.HasPrefix(got, "[Document 1] Part 5 / VF and Pulseless VT"))
	assert.Contains(t, got, "[Document 2]")
	assert.Contains(t, got, "study material 0")
}

func TestAttributeScope_MajorityVote(t *testing.T) {
	docs := []vectorsearch.Document{
		{ID: "1", Metadata: map[string]interface{}{"part": "Part 6", "chapter": "AV Blocks"}},
		{ID: "2", Metadata: map[string]interface{}{"part": "Part 6", "chapter": "AV Blocks"}},
		{ID: "3", Metadata: map[string]interface{}{"part": "Part 7", "chapter": "Adenosine and Antiarrhythmics"}},
		{ID: "4"},
	}
	part, chapter := attributeScope(docs)
	assert.Equal(t, "Part 6", part)
	assert.Equal(t, "AV Blocks", chapter)
}
