package forge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mcqforge/config"
	"mcqforge/internal/curriculum"
	"mcqforge/internal/diversity"
	"mcqforge/internal/fewshot"
	"mcqforge/internal/llm"
	"mcqforge/internal/mcq"
	"mcqforge/internal/prompt"
	"mcqforge/internal/retrieve"
	"mcqforge/internal/vectorsearch"
)

// Counters holds one diversity counter per tracker, keyed by tracker name.
// A fresh set is created per batch so batches never influence each other.
type Counters map[string]*diversity.Counter

// NewCounters returns empty counters for the given trackers.
func NewCounters(trackers []diversity.Tracker) Counters {
	c := make(Counters, len(trackers))
	for _, t := range trackers {
		c[t.Name()] = diversity.NewCounter()
	}
	return c
}

// Result is one accepted question together with its provenance.
type Result struct {
	ID          string    `json:"id"`
	Item        *mcq.Item `json:"item"`
	Part        string    `json:"part"`
	Chapter     string    `json:"chapter,omitempty"`
	Query       string    `json:"query"`
	Attempts    int       `json:"attempts"`
	GeneratedAt time.Time `json:"generated_at"`
}

// BatchItem is one slot of a batch: either a Result or a skip reason.
type BatchItem struct {
	Index      int     `json:"index"`
	Result     *Result `json:"result,omitempty"`
	SkipReason string  `json:"skip_reason,omitempty"`
}

// ProgressEvent is emitted as a batch advances, for streaming consumers.
type ProgressEvent struct {
	Type    string  `json:"type"` // "item", "skip", "done"
	Index   int     `json:"index"`
	Total   int     `json:"total"`
	Message string  `json:"message,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// Progress receives batch events. It is called from the generating
// goroutine, so implementations should return quickly.
type Progress func(ProgressEvent)

// HistoryEntry records one accepted item for the statistics endpoint.
type HistoryEntry struct {
	Part        string    `json:"part"`
	Chapter     string    `json:"chapter,omitempty"`
	Question    string    `json:"question"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Statistics summarizes everything the engine has accepted so far.
type Statistics struct {
	TotalGenerated int            `json:"total_generated"`
	ByPart         map[string]int `json:"by_part"`
}

// Options wires an Engine. Selector, Searcher and LLM are required; FewShot
// and Trackers may be nil or empty.
type Options struct {
	Selector  *curriculum.Selector
	Spec      curriculum.Spec
	Overrides curriculum.Overrides
	Searcher  vectorsearch.Searcher
	LLM       llm.Client
	FewShot   *fewshot.Pool
	Trackers  []diversity.Tracker

	Retrieval  config.RetrievalConfig
	Generation config.GenerationConfig
}

// Engine runs the generation state machine. It is safe for concurrent
// batches: per-batch mutable state (counters, retriever, recent chapters)
// lives in the batch, and the diversity gate is serialized by gateMu so a
// check and its recording are atomic even across parallel callers.
type Engine struct {
	selector  *curriculum.Selector
	spec      curriculum.Spec
	overrides curriculum.Overrides
	searcher  vectorsearch.Searcher
	llm       llm.Client
	fewshot   *fewshot.Pool
	trackers  []diversity.Tracker

	retrieval  config.RetrievalConfig
	generation config.GenerationConfig
	timeout    time.Duration

	gateMu sync.Mutex

	histMu  sync.Mutex
	history []HistoryEntry
}

// NewEngine builds an engine from options.
func NewEngine(opts Options) *Engine {
	if opts.Generation.RequestTimeout <= 0 {
		opts.Generation.RequestTimeout = 120
	}
	return &Engine{
		selector:   opts.Selector,
		spec:       opts.Spec,
		overrides:  opts.Overrides,
		searcher:   opts.Searcher,
		llm:        opts.LLM,
		fewshot:    opts.FewShot,
		trackers:   opts.Trackers,
		retrieval:  opts.Retrieval,
		generation: opts.Generation,
		timeout:    time.Duration(opts.Generation.RequestTimeout) * time.Second,
	}
}

// GenerateBatch produces up to count questions. Each slot carries either an
// accepted item or the reason it was skipped. A configuration error or
// context cancellation stops the batch early and is returned alongside
// whatever was already produced.
func (e *Engine) GenerateBatch(ctx context.Context, count int, userTopic string, progress Progress) ([]BatchItem, error) {
	counters := NewCounters(e.trackers)
	retriever := retrieve.New(e.searcher, retrieve.Options{
		PoolSize:        e.retrieval.PoolSize,
		SampleK:         e.retrieval.SampleK,
		RecentDocuments: e.retrieval.RecentDocuments,
	})
	var recentChapters []string

	items := make([]BatchItem, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		logrus.Infof("Generating item %d/%d", i+1, count)
		res, err := e.generateOne(ctx, retriever, counters, userTopic, recentChapters)
		if err != nil {
			if errors.Is(err, curriculum.ErrConfiguration) || ctx.Err() != nil {
				return items, err
			}
			logrus.Warnf("Item %d skipped: %v", i+1, err)
			items = append(items, BatchItem{Index: i, SkipReason: err.Error()})
			emit(progress, ProgressEvent{Type: "skip", Index: i, Total: count, Message: err.Error()})
			continue
		}
		items = append(items, BatchItem{Index: i, Result: res})
		emit(progress, ProgressEvent{Type: "item", Index: i, Total: count, Result: res})
		if res.Chapter != "" {
			recentChapters = appendRing(recentChapters, res.Chapter, e.generation.RecentChapters)
		}
	}
	emit(progress, ProgressEvent{Type: "done", Index: count, Total: count})
	return items, nil
}

// Generate produces a single question with batch-local diversity state.
func (e *Engine) Generate(ctx context.Context, userTopic string) (*Result, error) {
	items, err := e.GenerateBatch(ctx, 1, userTopic, nil)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 || items[0].Result == nil {
		reason := "no item produced"
		if len(items) > 0 {
			reason = items[0].SkipReason
		}
		return nil, fmt.Errorf("%w: %s", ErrRetriesExhausted, reason)
	}
	return items[0].Result, nil
}

// generateOne runs the state machine for one item: select a topic, attempt,
// and follow the retry schedule until acceptance or abort.
func (e *Engine) generateOne(ctx context.Context, retriever *retrieve.Retriever, counters Counters, userTopic string, recentChapters []string) (*Result, error) {
	st := NewState(e.generation.MaxRetries)
	needTopic := true

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if needTopic {
			if err := e.selectTopic(st, userTopic, recentChapters); err != nil {
				return nil, err
			}
			needTopic = false
		}

		err := e.attempt(ctx, st, retriever, counters)
		if err == nil {
			st.IsValid = true
			st.ShouldRetry = false
			e.checkpoint(st)
			return e.accept(st), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		st.RetryCount++
		next := nextAfterFailure(st.RetryCount, e.generation.QuickRetries, st.MaxRetries)
		logrus.Warnf("Attempt failed (retry %d/%d, next %s): %v", st.RetryCount, st.MaxRetries, next, err)
		switch next {
		case outcomeRetryRetrieve:
			st.ShouldRetry = true
		case outcomeRetryNewTopic:
			logrus.Infof("Abandoning topic %q after %d failures, selecting a new one", st.TopicQuery, st.RetryCount)
			st.ShouldRetry = true
			needTopic = true
		case outcomeAbort:
			st.ShouldRetry = false
			e.checkpoint(st)
			return nil, fmt.Errorf("%w: item abandoned after %d retries (last error: %v)", ErrRetriesExhausted, st.RetryCount, err)
		}
	}
}

func (e *Engine) selectTopic(st *State, userTopic string, recentChapters []string) error {
	if userTopic != "" {
		st.SelectedPart = ""
		st.SelectedChapter = ""
		st.TopicQuery = userTopic
		logrus.Debugf("Using caller topic %q", userTopic)
		return nil
	}
	sel, err := e.selector.Select(e.spec, e.overrides, recentChapters)
	if err != nil {
		return err
	}
	st.SelectedPart = sel.Part
	st.SelectedChapter = sel.Chapter
	st.TopicQuery = sel.Query
	logrus.Debugf("Selected topic %q", st.TopicQuery)
	return nil
}

// attempt performs one full pass: retrieve, build the prompt, call the
// model, parse, validate, and pass the diversity gate. Any returned error is
// recoverable by the retry schedule.
func (e *Engine) attempt(ctx context.Context, st *State, retriever *retrieve.Retriever, counters Counters) error {
	retrCtx, cancel := context.WithTimeout(ctx, e.timeout)
	docs, err := retriever.Retrieve(retrCtx, st.TopicQuery)
	cancel()
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	st.RetrievedDocuments = docs
	if st.SelectedPart == "" {
		// Caller-supplied topic: attribute the scope from the documents
		// that actually answered it.
		st.SelectedPart, st.SelectedChapter = attributeScope(docs)
	}
	st.FormattedContext = formatContext(docs)

	var examples []fewshot.Example
	if e.fewshot != nil {
		examples = e.fewshot.Pick(e.generation.FewShotMax)
	}

	userPrompt := prompt.Build(prompt.Input{
		Instruction:     e.generation.Instruction,
		Topic:           st.TopicQuery,
		Context:         st.FormattedContext,
		Examples:        examples,
		DiversityBlocks: e.statusBlocks(counters),
	})

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	raw, err := e.llm.Complete(genCtx, e.generation.SystemPrompt, userPrompt)
	cancel()
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	item, err := mcq.Parse(raw)
	if err != nil {
		return err
	}
	st.GeneratedItem = item

	if ok, verrs := mcq.Validate(item); !ok {
		st.ValidationErrors = verrs
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(verrs, "; "))
	}
	st.ValidationErrors = nil

	return e.admit(item, counters)
}

// admit checks every tracker and, only if all pass, records the item's
// features. Check and record happen under one lock so two concurrent items
// cannot both slip past a cap.
func (e *Engine) admit(item *mcq.Item, counters Counters) error {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()

	type hit struct {
		name, key string
	}
	var hits []hit
	for _, t := range e.trackers {
		key, ok := t.Extract(item)
		if !ok {
			continue
		}
		c := counters[t.Name()]
		if c == nil {
			continue
		}
		if c.ShouldReject(key, t.Cap(key)) {
			return fmt.Errorf("%w: %s %q already used %d times (cap %d)",
				ErrDiversityCap, t.Name(), key, c.Get(key), t.Cap(key))
		}
		hits = append(hits, hit{t.Name(), key})
	}
	for _, h := range hits {
		counters[h.name].Record(h.key)
	}
	return nil
}

// statusBlocks renders the advisory usage summary of every tracker whose
// counter has recorded anything.
func (e *Engine) statusBlocks(counters Counters) []string {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()

	var blocks []string
	for _, t := range e.trackers {
		c := counters[t.Name()]
		if c == nil || c.Len() == 0 {
			continue
		}
		blocks = append(blocks, t.StatusText(c))
	}
	return blocks
}

func (e *Engine) accept(st *State) *Result {
	res := &Result{
		ID:          st.SessionID,
		Item:        st.GeneratedItem,
		Part:        st.SelectedPart,
		Chapter:     st.SelectedChapter,
		Query:       st.TopicQuery,
		Attempts:    st.RetryCount + 1,
		GeneratedAt: time.Now().UTC(),
	}
	e.histMu.Lock()
	e.history = append(e.history, HistoryEntry{
		Part:        res.Part,
		Chapter:     res.Chapter,
		Question:    res.Item.Question,
		GeneratedAt: res.GeneratedAt,
	})
	e.histMu.Unlock()
	return res
}

// History returns a copy of every accepted item so far.
func (e *Engine) History() []HistoryEntry {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	out := make([]HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

// Stats aggregates the history per curriculum part.
func (e *Engine) Stats() Statistics {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	stats := Statistics{ByPart: make(map[string]int)}
	for _, h := range e.history {
		stats.TotalGenerated++
		part := h.Part
		if part == "" {
			part = "unattributed"
		}
		stats.ByPart[part]++
	}
	return stats
}

func (e *Engine) checkpoint(st *State) {
	dir := e.generation.CheckpointDir
	if dir == "" {
		return
	}
	if err := st.Save(dir); err != nil {
		logrus.Warnf("Failed to write checkpoint %s: %v", st.SessionID, err)
	}
}

// attributeScope derives a part and chapter by majority vote over document
// metadata. Empty when no document carries the fields.
func attributeScope(docs []vectorsearch.Document) (part, chapter string) {
	partVotes := make(map[string]int)
	chapterVotes := make(map[string]int)
	for _, d := range docs {
		if v, ok := d.Metadata["part"].(string); ok && v != "" {
			partVotes[v]++
		}
		if v, ok := d.Metadata["chapter"].(string); ok && v != "" {
			chapterVotes[v]++
		}
	}
	return majority(partVotes), majority(chapterVotes)
}

func majority(votes map[string]int) string {
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if votes[k] > bestN {
			best, bestN = k, votes[k]
		}
	}
	return best
}

// formatContext renders the sampled documents as numbered source blocks.
func formatContext(docs []vectorsearch.Document) string {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[Document %d]", i+1)
		if part, ok := d.Metadata["part"].(string); ok && part != "" {
			fmt.Fprintf(&b, " %s", part)
			if ch, ok := d.Metadata["chapter"].(string); ok && ch != "" {
				fmt.Fprintf(&b, " / %s", ch)
			}
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(d.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func appendRing(ring []string, v string, max int) []string {
	if max <= 0 {
		return ring
	}
	ring = append(ring, v)
	if len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}

func emit(p Progress, ev ProgressEvent) {
	if p != nil {
		p(ev)
	}
}
