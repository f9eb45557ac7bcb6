package detect

import (
	"strings"
)

// KeywordResult is the outcome of a lexical scan of one signal text.
type KeywordResult struct {
	// Score is the instant severity on the 0-10 scale: the score of the
	// highest-severity tier that matched
	Score float64 `json:"score"`
	// FastPath is true when an explicit self-harm intent term matched.
	// Downstream the aggregator treats this as an absolute override.
	FastPath bool `json:"fast_path"`
	// MatchedTerms lists the dictionary terms found, deduplicated
	MatchedTerms []string `json:"matched_terms,omitempty"`
	// Categories lists the crisis categories of the matched terms
	Categories []CrisisCategory `json:"categories,omitempty"`
}

// Matcher scans text against a tiered dictionary using an Aho-Corasick
// automaton, so cost is linear in text length regardless of how many
// terms the dictionary carries. Deterministic and stateless after build;
// safe for concurrent use.
type Matcher struct {
	terms []Term
	nodes []acNode
}

type acNode struct {
	next map[rune]int
	fail int
	out  []int // indices into terms
}

// NewMatcher builds an automaton for the given dictionary.
func NewMatcher(dict *Dictionary) *Matcher {
	m := &Matcher{terms: dict.Terms}
	m.nodes = []acNode{{next: make(map[rune]int)}}

	for i, term := range dict.Terms {
		cur := 0
		for _, r := range strings.ToLower(term.Text) {
			nxt, ok := m.nodes[cur].next[r]
			if !ok {
				m.nodes = append(m.nodes, acNode{next: make(map[rune]int)})
				nxt = len(m.nodes) - 1
				m.nodes[cur].next[r] = nxt
			}
			cur = nxt
		}
		m.nodes[cur].out = append(m.nodes[cur].out, i)
	}

	// BFS to wire failure links
	queue := make([]int, 0, len(m.nodes))
	for _, n := range m.nodes[0].next {
		m.nodes[n].fail = 0
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for r, n := range m.nodes[cur].next {
			queue = append(queue, n)
			f := m.nodes[cur].fail
			for f != 0 {
				if _, ok := m.nodes[f].next[r]; ok {
					break
				}
				f = m.nodes[f].fail
			}
			if target, ok := m.nodes[f].next[r]; ok && target != n {
				m.nodes[n].fail = target
			} else {
				m.nodes[n].fail = 0
			}
			m.nodes[n].out = append(m.nodes[n].out, m.nodes[m.nodes[n].fail].out...)
		}
	}

	return m
}

// Detect scans text and returns the severity result. The highest matched
// tier decides the score; an explicit-intent match sets FastPath and the
// maximum score unconditionally.
func (m *Matcher) Detect(text string) KeywordResult {
	var result KeywordResult
	lower := strings.ToLower(text)

	seenTerm := make(map[int]bool)
	state := 0
	for _, r := range lower {
		for state != 0 {
			if _, ok := m.nodes[state].next[r]; ok {
				break
			}
			state = m.nodes[state].fail
		}
		if nxt, ok := m.nodes[state].next[r]; ok {
			state = nxt
		}
		for _, ti := range m.nodes[state].out {
			seenTerm[ti] = true
		}
	}

	if len(seenTerm) == 0 {
		return result
	}

	seenCat := make(map[CrisisCategory]bool)
	for ti := range seenTerm {
		term := m.terms[ti]
		if s := TierScore(term.Tier); s > result.Score {
			result.Score = s
		}
		if term.Tier == TierExplicitIntent {
			result.FastPath = true
		}
		result.MatchedTerms = append(result.MatchedTerms, term.Text)
		if term.Category != "" && !seenCat[term.Category] {
			seenCat[term.Category] = true
			result.Categories = append(result.Categories, term.Category)
		}
	}
	if result.FastPath {
		result.Score = TierScore(TierExplicitIntent)
	}
	return result
}

// TermCount returns the number of dictionary terms compiled into the matcher.
func (m *Matcher) TermCount() int {
	return len(m.terms)
}
