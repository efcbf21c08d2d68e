package diversity

import (
	"fmt"
	"sort"
	"strings"

	"mcqforge/internal/mcq"
)

// Tracker extracts one diversity feature from generated items. A tracker is
// stateless; the per-batch state lives in the Counter the caller owns.
type Tracker interface {
	// Name identifies the feature dimension ("rhythm", "question_format").
	Name() string
	// Extract pulls the feature key from an item. ok is false when the
	// feature does not apply to this item.
	Extract(item *mcq.Item) (key string, ok bool)
	// Normalize maps synonymous surface forms to one canonical key.
	// Unknown forms pass through unchanged.
	Normalize(raw string) string
	// Cap returns the maximum accepted items allowed for key in a batch.
	Cap(key string) int
	// StatusText renders the per-key usage block injected into the prompt
	// before generation. Advisory only; the Counter gate enforces.
	StatusText(counter *Counter) string
}

// statusText renders the shared "N used / forbidden at cap" block. capFor
// resolves the cap per key so trackers with per-key caps can reuse it.
func statusText(header string, counter *Counter, capFor func(string) int) string {
	counts := counter.Snapshot()
	if len(counts) == 0 {
		return ""
	}

	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for key, count := range counts {
		entries = append(entries, entry{key, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})

	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString(header)
	sb.WriteString("\n")
	var forbidden []string
	for _, e := range entries {
		max := capFor(e.key)
		if max > 0 && e.count >= max {
			fmt.Fprintf(&sb, "- %s: used %d times. LIMIT REACHED, do not use again.\n", e.key, e.count)
			forbidden = append(forbidden, e.key)
		} else if max > 0 {
			fmt.Fprintf(&sb, "- %s: used %d times (%d more allowed).\n", e.key, e.count, max-e.count)
		} else {
			fmt.Fprintf(&sb, "- %s: used %d times.\n", e.key, e.count)
		}
	}
	if len(forbidden) > 0 {
		fmt.Fprintf(&sb, "\nSTRICT RULE: never use these again in this batch: %s.\n", strings.Join(forbidden, ", "))
	} else {
		sb.WriteString("\nPrefer values not used yet.\n")
	}
	return sb.String()
}
