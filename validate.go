package main

import "strings"

type guessVerdict int

const (
	guessAccepted guessVerdict = iota
	guessNotStarted
	guessLeadoff
	guessDuplicate
	guessUnrelated
)

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// validateGuess decides the fate of a raw guess against the current
// candidate set and guess history. First matching rule wins; rejections
// never mutate state.
func validateGuess(raw string, started bool, leadoff string, accepted []string, candidates map[string]string) guessVerdict {
	normalized := foldName(raw)

	if !started {
		return guessNotStarted
	}

	if normalized == foldName(leadoff) {
		return guessLeadoff
	}

	for _, name := range accepted {
		if foldName(name) == normalized {
			return guessDuplicate
		}
	}

	if _, ok := candidates[normalized]; ok {
		return guessAccepted
	}

	return guessUnrelated
}

// candidateSet indexes canonical names by their case-folded form, so a
// sloppily typed guess resolves back to the database spelling.
func candidateSet(names []string) map[string]string {
	set := make(map[string]string, len(names))
	for _, name := range names {
		set[foldName(name)] = name
	}
	return set
}
