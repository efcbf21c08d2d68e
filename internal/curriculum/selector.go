package curriculum

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Selector picks a (part, chapter) pair from a curriculum by weighted random
// choice. It is pure apart from its random source and carries no state
// between calls.
type Selector struct {
	rng *rand.Rand
}

// NewSelector returns a selector seeded from the clock.
func NewSelector() *Selector {
	return &Selector{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSelectorWithSource returns a selector using the given random source.
// Tests use this for reproducible draws.
func NewSelectorWithSource(src rand.Source) *Selector {
	return &Selector{rng: rand.New(src)}
}

// Select chooses a part by weighted random choice (override weight when
// present, uniform otherwise), then resolves the chapter scope of that part.
// Chapters listed in avoidChapters are skipped when alternatives remain.
func (s *Selector) Select(spec Spec, overrides Overrides, avoidChapters []string) (Selection, error) {
	if len(spec) == 0 {
		return Selection{}, fmt.Errorf("%w: curriculum has no parts", ErrConfiguration)
	}

	// Deterministic iteration order so equal seeds give equal draws.
	parts := make([]string, 0, len(spec))
	for part := range spec {
		parts = append(parts, part)
	}
	sort.Strings(parts)

	scopes := make([]Scope, len(parts))
	weights := make([]float64, len(parts))
	var total float64
	for i, part := range parts {
		scope, weight, err := scopeFor(part, spec[part], overrides)
		if err != nil {
			return Selection{}, err
		}
		scopes[i] = scope
		weights[i] = weight
		total += weight
	}
	if total <= 0 {
		return Selection{}, fmt.Errorf("%w: part weights sum to zero", ErrConfiguration)
	}

	idx := s.weightedIndex(weights, total)
	part := parts[idx]
	scope := scopes[idx]

	chapters := expandChapters(scope, spec[part])
	if len(chapters) == 0 {
		return Selection{}, fmt.Errorf("%w: part %q has no selectable chapters (scope %v)",
			ErrConfiguration, part, scope.Chapters)
	}

	if scope.Mode == ModeAll {
		logrus.Debugf("Topic selected: part '%s' as a whole (%d chapters in scope)", part, len(chapters))
		return Selection{Part: part, Query: part}, nil
	}

	candidates := withoutRecent(chapters, avoidChapters)
	chapter := candidates[s.rng.Intn(len(candidates))]
	sel := Selection{
		Part:    part,
		Chapter: chapter,
		Query:   fmt.Sprintf("%s - %s", part, chapter),
	}
	logrus.Debugf("Topic selected: part '%s', chapter '%s' (of %d)", part, chapter, len(chapters))
	return sel, nil
}

func (s *Selector) weightedIndex(weights []float64, total float64) int {
	target := s.rng.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if target < acc {
			return i
		}
	}
	return len(weights) - 1
}

// withoutRecent drops recently used chapters unless that would empty the
// candidate list.
func withoutRecent(chapters, recent []string) []string {
	if len(recent) == 0 {
		return chapters
	}
	avoid := make(map[string]bool, len(recent))
	for _, ch := range recent {
		avoid[ch] = true
	}
	var out []string
	for _, ch := range chapters {
		if !avoid[ch] {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return chapters
	}
	return out
}
