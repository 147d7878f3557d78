// Package retrieval implements the runbook passage store and the
// keyword retriever behind the grounded answer lane.
package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Chunk is one stored runbook passage.
type Chunk struct {
	ID        int       `json:"id"`
	Source    string    `json:"source"`
	Tags      []string  `json:"tags,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds runbook chunks in memory, newest first on listing. IDs are
// assigned sequentially at ingest time.
type Store struct {
	mu     sync.RWMutex
	chunks []Chunk
	nextID int
}

func NewStore() *Store {
	return &Store{nextID: 1}
}

// Ingest stores pre-chunked contents under one source. Returns the number of
// chunks stored.
func (s *Store) Ingest(source string, tags []string, contents []string) int {
	if len(contents) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, c := range contents {
		s.chunks = append(s.chunks, Chunk{
			ID:        s.nextID,
			Source:    source,
			Tags:      tags,
			Content:   c,
			CreatedAt: now,
		})
		s.nextID++
	}
	return len(contents)
}

// IngestDocument chunks a whole document and stores the pieces.
func (s *Store) IngestDocument(source string, tags []string, text string) int {
	parts := ChunkText(text)
	contents := make([]string, len(parts))
	copy(contents, parts)
	return s.Ingest(source, tags, contents)
}

// LoadDir ingests every .md and .txt file under dir, one source per file.
func (s *Store) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read runbook dir: %w", err)
	}

	total := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return total, fmt.Errorf("read runbook %s: %w", e.Name(), err)
		}
		total += s.IngestDocument(e.Name(), nil, string(data))
	}
	return total, nil
}

// Recent returns up to limit chunks, newest first.
func (s *Store) Recent(limit int) []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.chunks)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Chunk, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.chunks[i])
	}
	return out
}

// Len reports the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
