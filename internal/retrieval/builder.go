package retrieval

import (
	"fmt"
	"strings"

	"github.com/oncallops/answergate/internal/domain"
)

const systemInstruction = "You are an incident/runbook assistant. " +
	"Use ONLY the provided runbook snippets when possible. " +
	"If the runbooks do not contain enough information, say you are not confident. " +
	"Do not invent commands, credentials, or unsafe actions. " +
	"Prefer step-by-step, operationally safe guidance with verification steps."

const (
	defaultMaxPromptChars = 6500
	previewLimit          = 160
)

// BuiltContext is a grounded prompt together with the citations that back it.
type BuiltContext struct {
	Prompt       string
	Citations    []domain.Citation
	CharEstimate int
}

// PromptBuilder assembles the grounded-lane prompt from retrieved chunks.
type PromptBuilder struct {
	maxChars int
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{maxChars: defaultMaxPromptChars}
}

// Build produces a prompt citing each chunk by id. Snippets are trimmed from
// the tail when the prompt exceeds the character budget; citations always
// cover every retrieved chunk.
func (b *PromptBuilder) Build(question string, chunks []RetrievedChunk) BuiltContext {
	citations := make([]domain.Citation, 0, len(chunks))
	for _, c := range chunks {
		citations = append(citations, domain.Citation{
			ChunkID: c.ID,
			Source:  c.Source,
			Preview: Preview(c.Content),
		})
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("SYSTEM:\n%s\n", systemInstruction))
	parts = append(parts, fmt.Sprintf("QUESTION:\n%s\n", strings.TrimSpace(question)))

	if len(chunks) > 0 {
		parts = append(parts, "RUNBOOK SNIPPETS (with citations):\n")
		for _, c := range chunks {
			parts = append(parts, fmt.Sprintf("[chunk:%d source:%s]\n%s\n", c.ID, c.Source, strings.TrimSpace(c.Content)))
		}
	} else {
		parts = append(parts, "RUNBOOK SNIPPETS: (none available)\n")
	}

	parts = append(parts,
		"INSTRUCTIONS:\n"+
			"- Answer using the snippets, cite chunk ids like [chunk:123].\n"+
			"- If not enough info, say you cannot answer confidently and summarize the closest snippets.\n")

	prompt := strings.Join(parts, "\n")
	if len(prompt) > b.maxChars {
		head := strings.Join(parts[:3], "\n")
		tailBudget := b.maxChars - len(head) - 20
		if tailBudget < 0 {
			tailBudget = 0
		}
		snippets := strings.Join(parts[3:], "\n")
		if tailBudget > len(snippets) {
			tailBudget = len(snippets)
		}
		prompt = head + "\n" + snippets[:tailBudget]
	}

	return BuiltContext{
		Prompt:       prompt,
		Citations:    citations,
		CharEstimate: len(prompt),
	}
}

// Preview collapses whitespace and truncates to a citation-sized excerpt.
func Preview(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	runes := []rune(t)
	if len(runes) <= previewLimit {
		return t
	}
	return string(runes[:previewLimit-1]) + "…"
}
