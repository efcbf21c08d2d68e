// Package mcq defines the multiple-choice question item, parsing of raw
// model output into it, and structural validation.
package mcq

import (
	"encoding/json"
	"fmt"
)

// OptionCount is the required number of options per item; AnswerIndex is
// 1-based over this range.
const OptionCount = 4

// Item is one generated multiple-choice question.
type Item struct {
	Question    string      `json:"question"`
	Options     []string    `json:"options"`
	AnswerIndex int         `json:"answer_index"`
	Explanation Explanation `json:"explanation"`
}

// Explanation holds either one explanation text for the whole item or one
// entry per option. Models are allowed to return either shape.
type Explanation struct {
	Text      string
	PerOption []string
}

// UnmarshalJSON accepts a JSON string or a JSON array of strings.
func (e *Explanation) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		e.Text = text
		e.PerOption = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		e.Text = ""
		e.PerOption = list
		return nil
	}
	return fmt.Errorf("explanation must be a string or a list of strings")
}

// MarshalJSON emits the shape the explanation was parsed from.
func (e Explanation) MarshalJSON() ([]byte, error) {
	if e.PerOption != nil {
		return json.Marshal(e.PerOption)
	}
	return json.Marshal(e.Text)
}
