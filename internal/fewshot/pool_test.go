package fewshot

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcqforge/internal/mcq"
)

func makeExamples(category string, n int) []Example {
	out := make([]Example, n)
	for i := range out {
		out[i] = Example{
			Question:    fmt.Sprintf("%s question %d?", category, i),
			Options:     []string{"a", "b", "c", "d"},
			AnswerIndex: 1,
			Explanation: mcq.Explanation{Text: "because"},
		}
	}
	return out
}

func TestPick_ReturnsAtMostMax(t *testing.T) {
	pool := NewPool(map[string][]Example{"rhythms": makeExamples("rhythms", 6)}, nil, 10, rand.NewSource(1))

	picked := pool.Pick(3)
	assert.Len(t, picked, 3)

	small := NewPool(map[string][]Example{"rhythms": makeExamples("rhythms", 2)}, nil, 10, rand.NewSource(1))
	assert.Len(t, small.Pick(3), 2)
}

func TestPick_ZeroMax(t *testing.T) {
	pool := NewPool(map[string][]Example{"rhythms": makeExamples("rhythms", 6)}, nil, 10, rand.NewSource(1))
	assert.Nil(t, pool.Pick(0))
}

func TestPick_EmptyPool(t *testing.T) {
	pool := NewPool(nil, nil, 10, rand.NewSource(1))
	assert.Nil(t, pool.Pick(3))
}

func TestPick_AvoidsRecentExamples(t *testing.T) {
	pool := NewPool(map[string][]Example{"rhythms": makeExamples("rhythms", 6)}, nil, 10, rand.NewSource(2))

	first := pool.Pick(3)
	require.Len(t, first, 3)
	used := make(map[string]bool)
	for _, ex := range first {
		used[ex.Question] = true
	}

	second := pool.Pick(3)
	require.Len(t, second, 3)
	for _, ex := range second {
		assert.False(t, used[ex.Question], "example %q repeated while unseen ones remained", ex.Question)
	}
}

func TestPick_FallsBackWhenPoolExhausted(t *testing.T) {
	pool := NewPool(map[string][]Example{"rhythms": makeExamples("rhythms", 4)}, nil, 10, rand.NewSource(2))

	pool.Pick(3)
	// Only 1 unseen example remains, fewer than requested: the whole
	// category becomes available again.
	assert.Len(t, pool.Pick(3), 3)
}

func TestPick_WeightedCategoryChoice(t *testing.T) {
	categories := map[string][]Example{
		"heavy": makeExamples("heavy", 3),
		"light": makeExamples("light", 3),
	}
	weights := map[string]float64{"heavy": 9, "light": 1}

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		pool := NewPool(categories, weights, 10, rand.NewSource(int64(i)))
		picked := pool.Pick(1)
		require.Len(t, picked, 1)
		counts[picked[0].Question[:5]]++
	}
	assert.Greater(t, counts["heavy"], counts["light"])
}

func TestLoadDir_DropsInvalidExamples(t *testing.T) {
	dir := t.TempDir()
	content := `[
		{"question": "Valid?", "options": ["a", "b", "c", "d"], "answer_index": 1, "explanation": "yes"},
		{"question": "Invalid", "options": ["a", "b"], "answer_index": 9, "explanation": "no"}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mixed.json"), []byte(content), 0o644))

	pools, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, pools["mixed"], 1)
	assert.Equal(t, "Valid?", pools["mixed"][0].Question)
}

func TestLoadDir_CategoryFromFileStem(t *testing.T) {
	dir := t.TempDir()
	content := `[{"question": "Q?", "options": ["a", "b", "c", "d"], "answer_index": 1, "explanation": "e"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pharmacology.json"), []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rhythms.json"), []byte(content), 0o644))

	pools, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, pools, 2)
	assert.Contains(t, pools, "pharmacology")
	assert.Contains(t, pools, "rhythms")
}

func TestLoadDir_EmptyDirFails(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.Error(t, err)
}
