package diversity

import (
	"regexp"
	"sort"
	"strings"

	"mcqforge/internal/mcq"
)

// rhythmNormalization collapses synonymous surface forms of a cardiac rhythm
// to one canonical key. Lookup is case-insensitive on the lowercased form.
var rhythmNormalization = map[string]string{
	"vf":                                "VF",
	"ventricular fibrillation":          "VF",
	"v-fib":                             "VF",
	"pulseless vt":                      "Pulseless VT",
	"pulseless ventricular tachycardia": "Pulseless VT",
	"pvt":                               "Pulseless VT",
	"asystole":                          "Asystole",
	"flatline":                          "Asystole",
	"pea":                               "PEA",
	"pulseless electrical activity":     "PEA",
	"psvt":                              "PSVT",
	"paroxysmal supraventricular tachycardia": "PSVT",
	"af":                                "AF",
	"atrial fibrillation":               "AF",
	"a-fib":                             "AF",
	"svt":                               "SVT",
	"supraventricular tachycardia":      "SVT",
	"av block":                          "AV Block",
	"first-degree av block":             "AV Block",
	"second-degree av block":            "AV Block",
	"third-degree av block":             "AV Block",
	"complete heart block":              "AV Block",
	"sinus bradycardia":                 "Sinus Bradycardia",
	"stemi":                             "STEMI",
	"st elevation":                      "STEMI",
	"st-segment elevation":              "STEMI",
	"acute myocardial infarction":       "STEMI",
	"pulmonary embolism":                "Pulmonary Embolism",
	"rosc":                              "ROSC",
	"return of spontaneous circulation": "ROSC",
	"post-resuscitation":                "ROSC",
}

// imageTagPattern matches the rhythm annotation in image-style questions,
// e.g. [Image: "irregular chaotic waveform" - "ventricular fibrillation"].
var imageTagPattern = regexp.MustCompile(`(?i)\[Image:.*?-\s*"([^"]+)"\s*\]`)

// RhythmTracker extracts the cardiac rhythm a question is built around.
type RhythmTracker struct {
	cap int
}

// NewRhythmTracker returns a tracker allowing at most cap accepted items per
// rhythm in a batch.
func NewRhythmTracker(cap int) *RhythmTracker {
	if cap <= 0 {
		cap = 2
	}
	return &RhythmTracker{cap: cap}
}

func (t *RhythmTracker) Name() string { return "rhythm" }

// Extract finds the rhythm in the question text: the explicit image tag
// first, then known keyword scan. Not every item carries a rhythm.
func (t *RhythmTracker) Extract(item *mcq.Item) (string, bool) {
	if item == nil {
		return "", false
	}
	question := item.Question

	if m := imageTagPattern.FindStringSubmatch(question); m != nil {
		return t.Normalize(m[1]), true
	}

	lower := strings.ToLower(question)
	for _, keyword := range rhythmKeywords {
		if containsWord(lower, keyword) {
			return rhythmNormalization[keyword], true
		}
	}
	return "", false
}

// rhythmKeywords holds the normalization keys longest first, so "pulseless
// ventricular tachycardia" wins over "svt" and scan order is deterministic.
var rhythmKeywords = func() []string {
	keys := make([]string, 0, len(rhythmNormalization))
	for k := range rhythmNormalization {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// containsWord reports whether keyword occurs in text on word boundaries.
// Plain substring search would let "after" match the "af" abbreviation.
func containsWord(text, keyword string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], keyword)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(keyword)
		leftOK := i == 0 || !isWordByte(text[i-1])
		rightOK := end == len(text) || !isWordByte(text[end])
		if leftOK && rightOK {
			return true
		}
		from = i + 1
	}
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (t *RhythmTracker) Normalize(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if canonical, ok := rhythmNormalization[strings.ToLower(cleaned)]; ok {
		return canonical
	}
	return cleaned
}

func (t *RhythmTracker) Cap(string) int { return t.cap }

func (t *RhythmTracker) StatusText(counter *Counter) string {
	return statusText("Rhythms already used in this batch:", counter, t.Cap)
}
