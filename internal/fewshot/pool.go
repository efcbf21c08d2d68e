// Package fewshot manages the example pools injected into generation
// prompts: JSON-backed category pools, weighted category choice, and a
// bounded memory of recently used examples so consecutive prompts never
// carry the same subset by construction.
package fewshot

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mcqforge/internal/mcq"
)

// Example is one worked item shown to the model. It shares the item schema.
type Example = mcq.Item

// LoadDir reads every *.json file in dir into a category pool keyed by file
// stem. Each file holds a JSON array of examples. Invalid examples are
// dropped with a warning rather than failing the load.
func LoadDir(dir string) (map[string][]Example, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no example files in %s", dir)
	}

	pools := make(map[string][]Example, len(entries))
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			logrus.Warnf("Skipping example file '%s': %v", path, err)
			continue
		}
		var examples []Example
		if err := json.Unmarshal(data, &examples); err != nil {
			logrus.Warnf("Skipping example file '%s': %v", path, err)
			continue
		}
		category := strings.TrimSuffix(filepath.Base(path), ".json")
		valid := examples[:0]
		for _, ex := range examples {
			if ok, _ := mcq.Validate(&ex); ok {
				valid = append(valid, ex)
			} else {
				logrus.Warnf("Dropping invalid example in '%s'", path)
			}
		}
		if len(valid) > 0 {
			pools[category] = valid
			logrus.Infof("Loaded %d examples for category '%s'", len(valid), category)
		}
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("no usable examples in %s", dir)
	}
	return pools, nil
}

// Pool selects few-shot examples per call: one category drawn by weight,
// then a uniform sample from it avoiding recently used indices.
type Pool struct {
	mu         sync.Mutex
	categories map[string][]Example
	order      []string
	weights    map[string]float64
	recent     []int
	recentMax  int
	rng        *rand.Rand
}

// NewPool builds a pool over the loaded categories. Missing weights default
// to uniform. recentMax bounds the recently-used index memory.
func NewPool(categories map[string][]Example, weights map[string]float64, recentMax int, src rand.Source) *Pool {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if recentMax <= 0 {
		recentMax = 10
	}
	order := make([]string, 0, len(categories))
	for name := range categories {
		order = append(order, name)
	}
	// Stable order keeps seeded draws reproducible.
	sort.Strings(order)
	return &Pool{
		categories: categories,
		order:      order,
		weights:    weights,
		recentMax:  recentMax,
		rng:        rand.New(src),
	}
}

// Pick returns up to max examples for one prompt.
func (p *Pool) Pick(max int) []Example {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max <= 0 || len(p.categories) == 0 {
		return nil
	}

	category := p.pickCategory()
	examples := p.categories[category]

	available := p.availableIndices(len(examples))
	if len(available) < max {
		// Not enough unseen examples; fall back to the whole category.
		available = indices(len(examples))
	}

	count := max
	if count > len(available) {
		count = len(available)
	}
	perm := p.rng.Perm(len(available))
	picked := make([]Example, 0, count)
	for _, j := range perm[:count] {
		idx := available[j]
		picked = append(picked, examples[idx])
		p.recent = append(p.recent, idx)
	}
	if overflow := len(p.recent) - p.recentMax; overflow > 0 {
		p.recent = p.recent[overflow:]
	}
	logrus.Debugf("Few-shot: %d examples from category '%s'", len(picked), category)
	return picked
}

func (p *Pool) pickCategory() string {
	var total float64
	weights := make([]float64, len(p.order))
	for i, name := range p.order {
		w := 1.0
		if p.weights != nil {
			if v, ok := p.weights[name]; ok && v > 0 {
				w = v
			}
		}
		weights[i] = w
		total += w
	}
	target := p.rng.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if target < acc {
			return p.order[i]
		}
	}
	return p.order[len(p.order)-1]
}

func (p *Pool) availableIndices(n int) []int {
	used := make(map[int]bool, len(p.recent))
	for _, idx := range p.recent {
		used[idx] = true
	}
	var out []int
	for i := 0; i < n; i++ {
		if !used[i] {
			out = append(out, i)
		}
	}
	return out
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
