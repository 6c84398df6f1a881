package mqtt

import (
	"sort"
	"strings"

	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
)

// Candidate is one broker endpoint in connection order.
type Candidate struct {
	URL      string
	Priority int
}

// BuildCandidates orders brokers by ascending priority (stable for ties),
// prepends the injected URL when set and removes duplicate URLs, keeping
// the first occurrence.
func BuildCandidates(brokers []config.BrokerConfig, injected string) []Candidate {
	sorted := make([]config.BrokerConfig, len(brokers))
	copy(sorted, brokers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	out := make([]Candidate, 0, len(sorted)+1)
	seen := make(map[string]struct{}, len(sorted)+1)
	add := func(raw string, priority int) {
		key := normaliseURL(raw)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Candidate{URL: strings.TrimSpace(raw), Priority: priority})
	}

	if injected != "" {
		top := 0
		if len(sorted) > 0 {
			top = sorted[0].Priority - 1
		}
		add(injected, top)
	}
	for _, b := range sorted {
		add(b.URL, b.Priority)
	}
	return out
}

func normaliseURL(raw string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
}
