package diversity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatClassify(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"Which medication is indicated for stable SVT?", FormatSimple},
		{"All of the following are reversible causes EXCEPT:", FormatNegative},
		{"Which statement about adenosine is incorrect?", FormatNegative},
		{"Select all interventions appropriate during the first cycle of CPR.", FormatMultiple},
		{"What is the correct sequence of actions after recognizing cardiac arrest?", FormatSequential},
		{"What is your next step after the third shock?", FormatSequential},
		{"What is the difference between cardioversion and defibrillation?", FormatComparative},
		{"How does amiodarone perform compared to lidocaine in shock-refractory arrest?", FormatComparative},
		{strings.Repeat("A 58-year-old presents with crushing chest pain. ", 6) + "What now?", FormatCase},
	}

	tr := NewQuestionFormatTracker(nil)
	for _, tt := range tests {
		key, ok := tr.Extract(itemWithQuestion(tt.question))
		assert.True(t, ok)
		assert.Equal(t, tt.want, key, "question %q", tt.question)
	}
}

// The fallback classification means this tracker applies to every item.
func TestFormatExtract_AlwaysApplies(t *testing.T) {
	tr := NewQuestionFormatTracker(nil)
	key, ok := tr.Extract(itemWithQuestion("x"))
	assert.True(t, ok)
	assert.Equal(t, FormatSimple, key)
}

func TestFormatCaps(t *testing.T) {
	tr := NewQuestionFormatTracker(nil)
	assert.Equal(t, 5, tr.Cap(FormatSimple))
	assert.Equal(t, 1, tr.Cap(FormatComparative))
	assert.Equal(t, 1, tr.Cap(FormatMultiple))

	custom := NewQuestionFormatTracker(map[string]int{FormatComparative: 4})
	assert.Equal(t, 4, custom.Cap(FormatComparative))
	assert.Equal(t, 5, custom.Cap(FormatSimple))
}

func TestFormatNormalize(t *testing.T) {
	tr := NewQuestionFormatTracker(nil)
	assert.Equal(t, FormatNegative, tr.Normalize(" Negative "))
}
