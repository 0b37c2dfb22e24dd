package config

import "github.com/antzucaro/matchr"

// suggestThreshold is the Jaro-Winkler similarity an unknown name must reach
// against a candidate before it is offered as a correction.
const suggestThreshold = 0.85

// Suggest returns the candidate most similar to name, or "" when none is
// close enough to be a plausible typo.
func Suggest(name string, candidates []string) string {
	best, bestScore := "", suggestThreshold
	for _, c := range candidates {
		if s := matchr.JaroWinkler(name, c, false); s >= bestScore {
			best, bestScore = c, s
		}
	}
	return best
}
