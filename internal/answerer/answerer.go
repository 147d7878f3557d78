// Package answerer turns a question into an answer attempt through one of
// the two lanes: grounded (retrieval-backed) or direct (cloud, no retrieval).
package answerer

import (
	"context"
	"fmt"
	"strings"

	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/retrieval"
)

// Attempt is one answer produced by a lane, before confidence evaluation.
type Attempt struct {
	Answer        string
	Citations     []domain.Citation
	Provider      string
	TokenEstimate *int
	CharEstimate  int
}

const defaultTopK = 5

// Grounded answers through retrieval: top-k runbook chunks are folded into
// the prompt and cited back to the caller.
type Grounded struct {
	retriever *retrieval.Retriever
	builder   *retrieval.PromptBuilder
	topK      int
}

func NewGrounded(retriever *retrieval.Retriever, topK int) *Grounded {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Grounded{
		retriever: retriever,
		builder:   retrieval.NewPromptBuilder(),
		topK:      topK,
	}
}

// Answer retrieves, builds the grounded prompt, and asks the generator.
func (g *Grounded) Answer(ctx context.Context, gen domain.Generator, question string) (Attempt, error) {
	built := g.RetrieveAndBuild(question)

	result, err := gen.Generate(ctx, built.Prompt)
	if err != nil {
		return Attempt{}, fmt.Errorf("grounded generate: %w", err)
	}

	return Attempt{
		Answer:        result.Text,
		Citations:     built.Citations,
		Provider:      result.Provider,
		TokenEstimate: result.TokenEstimate,
		CharEstimate:  built.CharEstimate,
	}, nil
}

// RetrieveAndBuild runs retrieval and prompt assembly without any model
// call. The fallback path uses it to enumerate evidence deterministically.
func (g *Grounded) RetrieveAndBuild(question string) retrieval.BuiltContext {
	chunks := g.retriever.Retrieve(question, g.topK)
	return g.builder.Build(question, chunks)
}

// Direct answers through the cloud lane with a fixed incident-assistant
// prompt and no retrieval, so it never carries citations.
type Direct struct{}

func NewDirect() *Direct {
	return &Direct{}
}

func (d *Direct) Answer(ctx context.Context, gen domain.Generator, question string) (Attempt, error) {
	prompt := "You are an incident assistant. Provide a safe, operational answer. " +
		"If unsure, say so.\n\n" +
		"QUESTION:\n" + strings.TrimSpace(question) + "\n"

	result, err := gen.Generate(ctx, prompt)
	if err != nil {
		return Attempt{}, fmt.Errorf("direct generate: %w", err)
	}

	return Attempt{
		Answer:        result.Text,
		Citations:     nil,
		Provider:      result.Provider,
		TokenEstimate: result.TokenEstimate,
		CharEstimate:  len(prompt),
	}, nil
}
