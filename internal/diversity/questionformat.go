package diversity

import (
	"strings"

	"mcqforge/internal/mcq"
)

// Question format categories. Every item classifies into exactly one; the
// fallback is FormatSimple, so this tracker always applies.
const (
	FormatSimple      = "simple"
	FormatNegative    = "negative"
	FormatMultiple    = "multiple"
	FormatSequential  = "sequential"
	FormatComparative = "comparative"
	FormatCase        = "case"
)

// caseQuestionMinLength is the question length past which an item counts as
// a scenario/case question.
const caseQuestionMinLength = 200

// defaultFormatCaps bounds how often each format may appear in one batch.
// Simple questions are the staple; the exotic formats wear out fast.
var defaultFormatCaps = map[string]int{
	FormatSimple:      5,
	FormatCase:        3,
	FormatNegative:    2,
	FormatSequential:  2,
	FormatComparative: 1,
	FormatMultiple:    1,
}

// QuestionFormatTracker classifies the logical format of a question.
type QuestionFormatTracker struct {
	caps map[string]int
}

// NewQuestionFormatTracker returns a tracker with the default per-format
// caps, overridden by any entries in overrides.
func NewQuestionFormatTracker(overrides map[string]int) *QuestionFormatTracker {
	caps := make(map[string]int, len(defaultFormatCaps))
	for k, v := range defaultFormatCaps {
		caps[k] = v
	}
	for k, v := range overrides {
		caps[k] = v
	}
	return &QuestionFormatTracker{caps: caps}
}

func (t *QuestionFormatTracker) Name() string { return "question_format" }

func (t *QuestionFormatTracker) Extract(item *mcq.Item) (string, bool) {
	if item == nil {
		return "", false
	}
	return classifyFormat(item.Question), true
}

// Normalize lowercases the category; classification already emits canonical
// keys, so unknown forms pass through.
func (t *QuestionFormatTracker) Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (t *QuestionFormatTracker) Cap(key string) int {
	if max, ok := t.caps[key]; ok {
		return max
	}
	return defaultFormatCaps[FormatSimple]
}

func (t *QuestionFormatTracker) StatusText(counter *Counter) string {
	return statusText("Question formats already used in this batch:", counter, t.Cap)
}

func classifyFormat(question string) string {
	lower := strings.ToLower(question)
	switch {
	case strings.Contains(lower, "select all") ||
		strings.Contains(lower, "which of the following combinations") ||
		strings.Contains(lower, "choose all"):
		return FormatMultiple
	case strings.Contains(lower, "except") ||
		strings.Contains(lower, "not true") ||
		strings.Contains(lower, "incorrect"):
		return FormatNegative
	case strings.Contains(lower, "correct order") ||
		strings.Contains(lower, "correct sequence") ||
		strings.Contains(lower, "first step") ||
		strings.Contains(lower, "next step"):
		return FormatSequential
	case strings.Contains(lower, "compared") ||
		strings.Contains(lower, "difference between") ||
		strings.Contains(lower, "versus"):
		return FormatComparative
	case len(question) > caseQuestionMinLength:
		return FormatCase
	default:
		return FormatSimple
	}
}
