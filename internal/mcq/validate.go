package mcq

import (
	"fmt"
	"strings"
)

// Validate checks the structural correctness of an item. All checks run and
// every violation is reported; the item is valid only when the error list is
// empty. Validate has no side effects.
func Validate(item *Item) (bool, []string) {
	if item == nil {
		return false, []string{"no generated item"}
	}

	var errs []string

	// 1. Required fields.
	if item.Question == "" {
		errs = append(errs, "missing required field 'question'")
	}
	if item.Options == nil {
		errs = append(errs, "missing required field 'options'")
	}
	if item.AnswerIndex == 0 {
		errs = append(errs, "missing required field 'answer_index'")
	}
	if item.Explanation.Text == "" && item.Explanation.PerOption == nil {
		errs = append(errs, "missing required field 'explanation'")
	}

	// 2. Option count.
	if item.Options != nil && len(item.Options) != OptionCount {
		errs = append(errs, fmt.Sprintf("options count must be %d (got %d)", OptionCount, len(item.Options)))
	}

	// 3. Answer index range (1-based).
	if item.AnswerIndex != 0 && (item.AnswerIndex < 1 || item.AnswerIndex > OptionCount) {
		errs = append(errs, fmt.Sprintf("answer_index out of range 1-%d (got %d)", OptionCount, item.AnswerIndex))
	}

	// 4. Duplicate options.
	seen := make(map[string]bool, len(item.Options))
	for _, opt := range item.Options {
		if seen[opt] {
			errs = append(errs, "duplicate option")
			break
		}
		seen[opt] = true
	}

	// 5. Empty or whitespace-only fields.
	if item.Question != "" && strings.TrimSpace(item.Question) == "" {
		errs = append(errs, "question is empty")
	}
	for i, opt := range item.Options {
		if strings.TrimSpace(opt) == "" {
			errs = append(errs, fmt.Sprintf("options[%d] is empty", i))
		}
	}
	errs = append(errs, validateExplanation(item.Explanation)...)

	return len(errs) == 0, errs
}

func validateExplanation(e Explanation) []string {
	var errs []string
	switch {
	case e.PerOption != nil:
		if len(e.PerOption) != OptionCount {
			errs = append(errs, fmt.Sprintf("explanation list must have %d entries (got %d)", OptionCount, len(e.PerOption)))
		}
		for i, text := range e.PerOption {
			if strings.TrimSpace(text) == "" {
				errs = append(errs, fmt.Sprintf("explanation[%d] is empty", i))
			}
		}
	case e.Text != "":
		if strings.TrimSpace(e.Text) == "" {
			errs = append(errs, "explanation is empty")
		}
	}
	return errs
}
