package domain

import "context"

// GenerateResult is a model provider's answer to one prompt.
type GenerateResult struct {
	Text          string
	Provider      string
	TokenEstimate *int
}

// Generator is the contract every model provider implements. Generate blocks
// until the model responds or ctx is done.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (GenerateResult, error)
}
