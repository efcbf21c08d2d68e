// Package retrieve reduces a similarity-ordered candidate pool to a working
// document set by uniform random sampling.
package retrieve

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"mcqforge/internal/vectorsearch"
)

// ErrNoResults reports that the vector search returned zero candidates. It
// is recoverable: the retry controller re-retrieves or escalates.
var ErrNoResults = errors.New("retrieve: no documents found")

// Options tune a Retriever.
type Options struct {
	PoolSize        int // candidates requested from the searcher
	SampleK         int // working set size
	RecentDocuments int // recently used document IDs to avoid
	Source          rand.Source
}

// Retriever asks the searcher for a candidate pool and samples a working set
// from it. A deterministic top-k would show every attempt the same context;
// sampling from an already topic-filtered pool is what keeps repeated
// attempts from producing near-identical questions. One Retriever serves one
// batch: it remembers recently used document IDs to steer later items toward
// unseen material.
type Retriever struct {
	searcher  vectorsearch.Searcher
	poolSize  int
	sampleK   int
	recentCap int
	recentIDs []string
	rng       *rand.Rand
}

// New builds a retriever over the given searcher.
func New(searcher vectorsearch.Searcher, opts Options) *Retriever {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 20
	}
	if opts.SampleK <= 0 {
		opts.SampleK = 7
	}
	if opts.RecentDocuments <= 0 {
		opts.RecentDocuments = 20
	}
	src := opts.Source
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Retriever{
		searcher:  searcher,
		poolSize:  opts.PoolSize,
		sampleK:   opts.SampleK,
		recentCap: opts.RecentDocuments,
		rng:       rand.New(src),
	}
}

// Retrieve fetches the candidate pool for query and samples the working set.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]vectorsearch.Document, error) {
	pool, err := r.searcher.Search(ctx, query, r.poolSize)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, ErrNoResults
	}
	logrus.Infof("Initial retrieval complete: %d documents for '%s'", len(pool), query)

	pool = r.withoutRecent(pool)

	var selected []vectorsearch.Document
	if len(pool) <= r.sampleK {
		logrus.Infof("Sampling skipped (%d documents <= k=%d)", len(pool), r.sampleK)
		selected = pool
	} else {
		selected = r.sample(pool)
		logrus.Infof("Random selection: %d -> %d documents (diversity first)", len(pool), len(selected))
	}

	r.remember(selected)
	return selected, nil
}

// withoutRecent filters recently used documents from the pool when enough
// candidates survive; otherwise the unfiltered pool wins, trading diversity
// for document count.
func (r *Retriever) withoutRecent(pool []vectorsearch.Document) []vectorsearch.Document {
	if len(r.recentIDs) == 0 {
		return pool
	}
	seen := make(map[string]bool, len(r.recentIDs))
	for _, id := range r.recentIDs {
		seen[id] = true
	}
	var filtered []vectorsearch.Document
	for _, doc := range pool {
		if !seen[doc.StableID()] {
			filtered = append(filtered, doc)
		}
	}
	minRequired := r.sampleK / 2
	if minRequired < 3 {
		minRequired = 3
	}
	if len(filtered) < minRequired {
		logrus.Infof("Recent-document filter skipped (%d remaining < %d)", len(filtered), minRequired)
		return pool
	}
	logrus.Infof("Recent-document filter: %d of %d documents kept", len(filtered), len(pool))
	return filtered
}

// sample draws exactly sampleK distinct documents uniformly at random.
func (r *Retriever) sample(pool []vectorsearch.Document) []vectorsearch.Document {
	perm := r.rng.Perm(len(pool))
	out := make([]vectorsearch.Document, r.sampleK)
	for i := 0; i < r.sampleK; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

func (r *Retriever) remember(docs []vectorsearch.Document) {
	for _, doc := range docs {
		r.recentIDs = append(r.recentIDs, doc.StableID())
	}
	if overflow := len(r.recentIDs) - r.recentCap; overflow > 0 {
		r.recentIDs = r.recentIDs[overflow:]
	}
}
