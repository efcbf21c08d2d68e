// Package curriculum models the hierarchical part/chapter structure questions
// are drawn from and implements weighted topic selection over it.
package curriculum

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration reports a malformed curriculum. It is fatal: the retry
// controller never retries it.
var ErrConfiguration = errors.New("curriculum: invalid configuration")

// Spec maps a part name to its ordered chapter list. It is read-only input
// owned by the caller.
type Spec map[string][]string

// Scope is the nested per-part override: an explicit chapter subset (or the
// "*" wildcard), a selection mode and a selection weight. A nil Weight means
// the override leaves the weight at its default of 1.
type Scope struct {
	Chapters []string `yaml:"chapters" json:"chapters"`
	Mode     string   `yaml:"mode" json:"mode"` // "single" or "all"
	Weight   *float64 `yaml:"weight" json:"weight,omitempty"`
}

// Overrides maps part names to their nested scope.
type Overrides map[string]Scope

const (
	// ModeSingle draws one chapter at random from the scoped list.
	ModeSingle = "single"
	// ModeAll treats the whole part as one query without picking a chapter.
	ModeAll = "all"

	// Wildcard expands to every chapter known for the part.
	Wildcard = "*"
)

// Selection is the result of one topic choice.
type Selection struct {
	Part    string
	Chapter string // empty when the whole part is the scope
	Query   string
}

// Load reads a curriculum file holding the part structure and optional
// nested overrides.
func Load(path string) (Spec, Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var file struct {
		Parts     Spec      `yaml:"parts"`
		Overrides Overrides `yaml:"overrides"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	if len(file.Parts) == 0 {
		return nil, nil, fmt.Errorf("%w: no parts defined in %s", ErrConfiguration, path)
	}
	for part, scope := range file.Overrides {
		if scope.Mode != "" && scope.Mode != ModeSingle && scope.Mode != ModeAll {
			return nil, nil, fmt.Errorf("%w: part %q has unknown mode %q", ErrConfiguration, part, scope.Mode)
		}
	}
	logrus.Infof("Curriculum loaded: %d parts, %d overrides", len(file.Parts), len(file.Overrides))
	return file.Parts, file.Overrides, nil
}

// scopeFor resolves the effective scope and weight of a part once, at
// selection entry. Parts without an override get the default: every chapter,
// single mode, weight 1. An override that omits the weight keeps the default
// weight; only an explicit weight (including 0) replaces it.
func scopeFor(part string, chapters []string, overrides Overrides) (Scope, float64, error) {
	scope := Scope{Chapters: []string{Wildcard}, Mode: ModeSingle}
	weight := 1.0
	if overrides != nil {
		if nested, ok := overrides[part]; ok {
			if len(nested.Chapters) > 0 {
				scope.Chapters = nested.Chapters
			}
			if nested.Mode != "" {
				scope.Mode = nested.Mode
			}
			if nested.Weight != nil {
				weight = *nested.Weight
			}
		}
	}
	if scope.Mode != ModeSingle && scope.Mode != ModeAll {
		return Scope{}, 0, fmt.Errorf("%w: part %q has unknown mode %q", ErrConfiguration, part, scope.Mode)
	}
	if len(chapters) == 0 {
		return Scope{}, 0, fmt.Errorf("%w: part %q has no chapters", ErrConfiguration, part)
	}
	return scope, weight, nil
}

// expandChapters resolves wildcards and filters the scoped chapter list down
// to chapters the part actually declares.
func expandChapters(scope Scope, all []string) []string {
	for _, ch := range scope.Chapters {
		if ch == Wildcard {
			return all
		}
	}
	known := make(map[string]bool, len(all))
	for _, ch := range all {
		known[ch] = true
	}
	var out []string
	for _, ch := range scope.Chapters {
		if known[ch] {
			out = append(out, ch)
		}
	}
	return out
}
