package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/topperstoolkit/doubts/pkg/model"
	"google.golang.org/genai"
)

func TestIsTokenLimitError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name: "actual Gemini token limit error",
			err: genai.APIError{
				Code:    400,
				Status:  "INVALID_ARGUMENT",
				Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
			},
			expected: true,
		},
		{
			name: "400 INVALID_ARGUMENT but unrelated",
			err: genai.APIError{
				Code:    400,
				Status:  "INVALID_ARGUMENT",
				Message: "invalid parameter format",
			},
			expected: false,
		},
		{
			name:     "other error type",
			err:      errors.New("network timeout"),
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, isTokenLimitError(tc.err), tc.expected)
		})
	}
}

func TestClassifyModelError(t *testing.T) {
	gt.Equal(t, classifyModelError(goerr.Wrap(context.DeadlineExceeded, "wrapped")), ReasonTimeout)
	gt.Equal(t, classifyModelError(goerr.Wrap(errEmptyResponse, "wrapped")), ReasonEmpty)
	gt.Equal(t, classifyModelError(goerr.Wrap(errToolLoop, "wrapped")), ReasonToolLoop)
	gt.Equal(t, classifyModelError(errors.New("boom")), ReasonProvider)
}

func TestUsedQuotes(t *testing.T) {
	bank := []string{"Don’t stop learning.", "Keep going."}

	used := usedQuotes(bank, nil)
	gt.Equal(t, used.firstUnused(bank), bank[0])

	used = usedQuotes(bank, []*model.Turn{
		{Role: model.RoleUser, Content: "Keep going."},
		{Role: model.RoleAssistant, Content: "As they say, \"DON'T   stop learning.\""},
	})
	gt.True(t, used.has(bank[0]))
	gt.False(t, used.has(bank[1]))
	gt.Equal(t, used.firstUnused(bank), bank[1])

	used = usedQuotes(bank, []*model.Turn{
		{Role: model.RoleAssistant, Content: "Don't stop learning. Keep going."},
	})
	gt.Equal(t, used.firstUnused(bank), "")
}

func TestLinearizeHistory(t *testing.T) {
	turns := []*model.Turn{
		{Role: model.RoleUser, Content: "u1"},
		{Role: model.RoleAssistant, Content: "a1"},
		{Role: model.RoleUser, Content: "u2", Archived: true},
		{Role: model.RoleAssistant, Content: "a2"},
	}
	gt.Equal(t, linearizeHistory(turns, 0), "Here is the conversation history:\nStudent: u1\nAssistant: a1\nAssistant: a2")
	gt.Equal(t, linearizeHistory(turns, 1), "Here is the conversation history:\nAssistant: a2")
	gt.Equal(t, linearizeHistory(nil, 50), emptyHistoryMarker)
}
