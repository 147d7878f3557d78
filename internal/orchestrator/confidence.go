package orchestrator

import (
	"strings"
	"unicode/utf8"
)

// minConfidentLength is the shortest answer accepted as confident.
const minConfidentLength = 60

// uncertaintyMarkers flag hedging answers. Substring match on the lowered
// text; Korean markers are stems so they catch conjugated forms.
var uncertaintyMarkers = []string{
	"i don't know",
	"not sure",
	"can't",
	"cannot",
	"unknown",
	"모르",
	"확신",
	"알 수 없",
	"불확실",
}

// LooksLowConfidence judges an answer by deterministic policy: empty or very
// short answers are low confidence, as is anything hedged with an
// uncertainty marker.
func LooksLowConfidence(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	if utf8.RuneCountInString(t) < minConfidentLength {
		return true
	}
	for _, m := range uncertaintyMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
