package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var wordPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// NormalizeQuery lowercases the query and keeps word tokens of length >= 2.
func NormalizeQuery(q string) []string {
	return tokenize(q)
}

func tokenize(text string) []string {
	var out []string
	for _, t := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(t) >= 2 {
			out = append(out, t)
		}
	}
	return out
}

type scoredChunk struct {
	chunkID int
	score   float64
}

// scoreChunks ranks candidate chunks with a lightweight tf-idf score.
// idf is computed on the candidate set only, which keeps scoring fast and
// deterministic; tf is length-normalized by sqrt of the chunk token count.
func scoreChunks(queryTokens []string, chunks []Chunk) []scoredChunk {
	if len(queryTokens) == 0 {
		return nil
	}

	type doc struct {
		chunkID int
		counts  map[string]int
		length  int
	}

	docs := make([]doc, 0, len(chunks))
	df := make(map[string]int)
	for _, c := range chunks {
		tokens := tokenize(c.Content)
		counts := make(map[string]int, len(tokens))
		for _, t := range tokens {
			counts[t]++
		}
		length := len(tokens)
		if length == 0 {
			length = 1
		}
		docs = append(docs, doc{chunkID: c.ID, counts: counts, length: length})
		for t := range counts {
			df[t]++
		}
	}

	n := len(docs)
	if n == 0 {
		n = 1
	}
	idf := func(t string) float64 {
		return math.Log(float64(n+1) / (float64(df[t]) + 0.5))
	}

	var scored []scoredChunk
	for _, d := range docs {
		var s float64
		for _, t := range queryTokens {
			if tf := d.counts[t]; tf > 0 {
				s += float64(tf) / math.Sqrt(float64(d.length)) * idf(t)
			}
		}
		if s > 0 {
			scored = append(scored, scoredChunk{chunkID: d.chunkID, score: s})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored
}
