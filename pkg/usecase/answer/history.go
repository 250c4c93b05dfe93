package answer

import (
	"strings"

	"github.com/topperstoolkit/doubts/pkg/model"
)

const (
	emptyHistoryMarker = "The user has just started the conversation."
	historyHeader      = "Here is the conversation history:"
)

var turnLabels = map[model.Role]string{
	model.RoleUser:      "Student",
	model.RoleAssistant: "Assistant",
}

// conversational drops archived and system turns, keeping order
func conversational(turns []*model.Turn) []*model.Turn {
	out := make([]*model.Turn, 0, len(turns))
	for _, t := range turns {
		if t == nil || t.Archived || !t.Conversational() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// linearizeHistory renders the most recent limit turns as labeled lines. A
// limit of zero or less keeps every turn.
func linearizeHistory(turns []*model.Turn, limit int) string {
	turns = conversational(turns)
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	if len(turns) == 0 {
		return emptyHistoryMarker
	}

	var b strings.Builder
	b.WriteString(historyHeader)
	for _, t := range turns {
		b.WriteString("\n")
		b.WriteString(turnLabels[t.Role])
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

// quoteSet is the set of quotes already surfaced in a conversation
type quoteSet map[string]struct{}

func normalizeQuote(s string) string {
	r := strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)
	return strings.Join(strings.Fields(strings.ToLower(r.Replace(s))), " ")
}

// usedQuotes scans prior assistant turns once for literal quote matches
func usedQuotes(bank []string, turns []*model.Turn) quoteSet {
	used := make(quoteSet)
	var replies []string
	for _, t := range conversational(turns) {
		if t.Role == model.RoleAssistant {
			replies = append(replies, normalizeQuote(t.Content))
		}
	}
	if len(replies) == 0 {
		return used
	}

	for _, q := range bank {
		nq := normalizeQuote(q)
		if nq == "" {
			continue
		}
		for _, r := range replies {
			if strings.Contains(r, nq) {
				used[q] = struct{}{}
				break
			}
		}
	}
	return used
}

func (x quoteSet) has(q string) bool {
	_, ok := x[q]
	return ok
}

// firstUnused returns the first quote of the bank not in the set, or ""
func (x quoteSet) firstUnused(bank []string) string {
	for _, q := range bank {
		if !x.has(q) {
			return q
		}
	}
	return ""
}
