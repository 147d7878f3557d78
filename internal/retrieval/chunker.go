package retrieval

import (
	"regexp"
	"strings"
)

const (
	chunkMinChars = 300
	chunkMaxChars = 800
)

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// ChunkText splits a document into roughly 300-800 character chunks.
// Paragraphs are packed together until the minimum size is reached; any
// single paragraph over the maximum is split hard.
func ChunkText(text string) []string {
	cleaned := strings.ReplaceAll(text, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}

	var paragraphs []string
	for _, p := range blankLines.Split(cleaned, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var chunks []string
	var buf []string
	size := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if combined := strings.TrimSpace(strings.Join(buf, "\n\n")); combined != "" {
			chunks = append(chunks, combined)
		}
		buf = buf[:0]
		size = 0
	}

	for _, para := range paragraphs {
		if len(para) > chunkMaxChars {
			flush()
			for start := 0; start < len(para); start += chunkMaxChars {
				end := start + chunkMaxChars
				if end > len(para) {
					end = len(para)
				}
				chunks = append(chunks, strings.TrimSpace(para[start:end]))
			}
			continue
		}

		if size > 0 && size+len(para)+2 > chunkMaxChars {
			flush()
		}

		buf = append(buf, para)
		size += len(para) + 2

		if size >= chunkMinChars {
			flush()
		}
	}
	flush()

	return chunks
}
