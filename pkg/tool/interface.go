package tool

import (
	"context"

	"google.golang.org/genai"
)

// Tool is a function the model may call while answering a doubt.
type Tool interface {
	// Spec returns the function declarations offered to the model
	Spec() *genai.Tool

	// Execute handles one function call. The returned response is sent
	// back to the model as the call result.
	Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error)

	// Prompt is appended to the system instructions. Empty means none.
	Prompt(ctx context.Context) string
}
