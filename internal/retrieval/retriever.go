package retrieval

// RetrievedChunk is a store chunk paired with its relevance score.
type RetrievedChunk struct {
	ID      int     `json:"id"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

const defaultScanLimit = 400

// Retriever answers keyword queries against a Store.
type Retriever struct {
	store     *Store
	scanLimit int
}

func NewRetriever(store *Store) *Retriever {
	return &Retriever{store: store, scanLimit: defaultScanLimit}
}

// Retrieve returns the topK best-matching chunks for the question, ordered
// by descending score. Returns nil when nothing matches.
func (r *Retriever) Retrieve(question string, topK int) []RetrievedChunk {
	queryTokens := NormalizeQuery(question)
	candidates := r.store.Recent(r.scanLimit)

	scored := scoreChunks(queryTokens, candidates)
	if len(scored) == 0 {
		return nil
	}
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	byID := make(map[int]Chunk, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	out := make([]RetrievedChunk, 0, len(scored))
	for _, s := range scored {
		c, ok := byID[s.chunkID]
		if !ok {
			continue
		}
		out = append(out, RetrievedChunk{
			ID:      c.ID,
			Source:  c.Source,
			Content: c.Content,
			Score:   s.score,
		})
	}
	return out
}
