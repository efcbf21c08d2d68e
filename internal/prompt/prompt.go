// Package prompt assembles the final generation prompt from the base
// instruction, few-shot examples, the formatted document context, and the
// diversity status blocks.
package prompt

import (
	"fmt"
	"strings"

	"mcqforge/internal/fewshot"
)

// FormatInstructions tells the model the exact JSON shape the parser
// expects. Kept strict: the validator rejects anything else anyway, and a
// rejected item costs a retry.
const FormatInstructions = `Respond with a single JSON object and nothing else: no markdown code fences, no prose.
The object must have exactly these fields:
- "question": string, the question text
- "options": list of exactly 4 distinct strings
- "answer_index": integer between 1 and 4 (1-based index of the correct option)
- "explanation": either one string, or a list of exactly 4 strings (one per option)
All fields are required and must be non-empty.`

// Input carries everything one generation call needs.
type Input struct {
	Instruction     string
	Topic           string
	Context         string
	Examples        []fewshot.Example
	DiversityBlocks []string
}

// Build concatenates the prompt sections in a fixed order: instruction,
// few-shot examples, context, topic, diversity constraints, format rules.
func Build(in Input) string {
	var sb strings.Builder

	if in.Instruction != "" {
		sb.WriteString(in.Instruction)
		sb.WriteString("\n\n")
	}

	if len(in.Examples) > 0 {
		sb.WriteString(renderExamples(in.Examples))
		sb.WriteString("\n")
	}

	sb.WriteString("Study material:\n")
	sb.WriteString(in.Context)
	sb.WriteString("\n\n")

	if in.Topic != "" {
		fmt.Fprintf(&sb, "Topic: %s\n", in.Topic)
	}

	for _, block := range in.DiversityBlocks {
		if block != "" {
			sb.WriteString(block)
		}
	}

	sb.WriteString("\n")
	sb.WriteString(FormatInstructions)
	return sb.String()
}

// renderExamples formats the few-shot examples the way they should be
// imitated, correct answer and explanations included.
func renderExamples(examples []fewshot.Example) string {
	var sb strings.Builder
	sb.WriteString("Follow the structure of these examples exactly (question style, option style, explanation style), but draw all content from the study material below, never copying example content:\n\n")
	for i, ex := range examples {
		fmt.Fprintf(&sb, "Example %d:\n", i+1)
		fmt.Fprintf(&sb, "Question: %s\n", ex.Question)
		sb.WriteString("Options:\n")
		for j, opt := range ex.Options {
			fmt.Fprintf(&sb, "  %d. %s\n", j+1, opt)
		}
		fmt.Fprintf(&sb, "Answer: %d\n", ex.AnswerIndex)
		if ex.Explanation.PerOption != nil {
			sb.WriteString("Explanation:\n")
			for j, text := range ex.Explanation.PerOption {
				marker := "wrong"
				if j+1 == ex.AnswerIndex {
					marker = "correct"
				}
				fmt.Fprintf(&sb, "  %d (%s): %s\n", j+1, marker, text)
			}
		} else {
			fmt.Fprintf(&sb, "Explanation: %s\n", ex.Explanation.Text)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
