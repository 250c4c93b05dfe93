package answer

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Failure reasons of a turn that ended with the fallback text
const (
	ReasonTimeout    = "timeout"
	ReasonTokenLimit = "token_limit"
	ReasonProvider   = "provider"
	ReasonEmpty      = "empty"
	ReasonToolLoop   = "tool_loop"
	ReasonPrompt     = "prompt"
)

var (
	errEmptyResponse = goerr.New("model returned no text")
	errToolLoop      = goerr.New("tool call limit reached without an answer")
)

// isTokenLimitError checks the exact Gemini API token limit error pattern
// Example: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
func isTokenLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

func classifyModelError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case isTokenLimitError(err):
		return ReasonTokenLimit
	case errors.Is(err, errEmptyResponse):
		return ReasonEmpty
	case errors.Is(err, errToolLoop):
		return ReasonToolLoop
	default:
		return ReasonProvider
	}
}
