package answer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/topperstoolkit/doubts/pkg/grounding"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/tool"
	"github.com/topperstoolkit/doubts/pkg/tool/platform"
	"github.com/topperstoolkit/doubts/pkg/usecase/answer"
	"google.golang.org/genai"
)

type mockLLM struct {
	mu       sync.Mutex
	contents [][]*genai.Content
	configs  []*genai.GenerateContentConfig
	generate func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error)
}

func (m *mockLLM) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	n := len(m.contents)
	m.contents = append(m.contents, append([]*genai.Content(nil), contents...))
	m.configs = append(m.configs, config)
	m.mu.Unlock()
	return m.generate(ctx, n, contents)
}

func (m *mockLLM) Provider() string { return "mock" }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contents)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}
}

func callResponse(id string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{ID: id, Name: platform.FunctionName, Args: args},
				}},
			},
		}},
	}
}

func newOrchestrator(t *testing.T, llm *mockLLM, opts ...answer.Option) *answer.Orchestrator {
	t.Helper()
	kb, err := grounding.New()
	gt.NoError(t, err)
	policy, err := answer.NewRolePolicy(context.Background())
	gt.NoError(t, err)
	pt, err := platform.New(kb.SuggestableServices())
	gt.NoError(t, err)
	registry := tool.New(pt)

	asm := answer.NewAssembler(kb, policy, answer.WithToolPrompt(registry.Prompts(context.Background())))
	opts = append([]answer.Option{answer.WithRegistry(registry)}, opts...)
	return answer.New(llm, asm, opts...)
}

var student = model.Identity{Name: "Aryan Gupta", RoleClass: "9"}

func TestAnswerTurnText(t *testing.T) {
	llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		return textResponse("  Photosynthesis makes food from light.  "), nil
	}}
	o := newOrchestrator(t, llm)

	ans, err := o.AnswerTurn(context.Background(), student, " What is photosynthesis? ", nil)
	gt.NoError(t, err)
	gt.False(t, ans.Fallback)
	gt.Equal(t, ans.Text, "Photosynthesis makes food from light.")
	gt.Equal(t, llm.calls(), 1)

	cfg := llm.configs[0]
	gt.V(t, cfg.Temperature).NotNil()
	gt.Equal(t, *cfg.Temperature, answer.DefaultTemperature)
	gt.A(t, cfg.Tools).Length(1)
	gt.Equal(t, llm.contents[0][0].Parts[0].Text, "What is photosynthesis?")
}

func TestAnswerTurnToolCall(t *testing.T) {
	llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		if n == 0 {
			return callResponse("call-1", map[string]any{"doubt": "where can I buy printed notes", "user_name": "Aryan Gupta"}), nil
		}
		return textResponse("You can order them from the Shop."), nil
	}}
	o := newOrchestrator(t, llm)

	ans, err := o.AnswerTurn(context.Background(), student, "Where can I buy printed notes?", nil)
	gt.NoError(t, err)
	gt.False(t, ans.Fallback)
	gt.Equal(t, ans.Text, "You can order them from the Shop.")
	gt.A(t, ans.ToolCalls).Length(1)
	gt.Equal(t, ans.ToolCalls[0].Name, platform.FunctionName)
	gt.S(t, ans.ToolCalls[0].Result).Contains("Shop")

	// question, model call, function response
	second := llm.contents[1]
	gt.A(t, second).Length(3)
	resp := second[2].Parts[0].FunctionResponse
	gt.V(t, resp).NotNil()
	gt.Equal(t, resp.ID, "call-1")
	gt.Equal(t, resp.Response["found"], any(true))
}

func TestAnswerTurnToolMiss(t *testing.T) {
	llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		if n == 0 {
			return callResponse("call-1", map[string]any{"doubt": "zzzz qqqq"}), nil
		}
		return textResponse("I could not find that, sorry."), nil
	}}
	o := newOrchestrator(t, llm)

	ans, err := o.AnswerTurn(context.Background(), student, "zzzz qqqq", nil)
	gt.NoError(t, err)
	gt.False(t, ans.Fallback)
	gt.Equal(t, ans.ToolCalls[0].Result, platform.NoMatchText)
}

func TestAnswerTurnUnknownTool(t *testing.T) {
	llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		if n == 0 {
			return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "x", Name: "no_such_tool"}}},
			}}}}, nil
		}
		return textResponse("Answer without the tool."), nil
	}}
	o := newOrchestrator(t, llm)

	ans, err := o.AnswerTurn(context.Background(), student, "question", nil)
	gt.NoError(t, err)
	gt.False(t, ans.Fallback)
	gt.True(t, ans.ToolCalls[0].Failed)
	resp := llm.contents[1][2].Parts[0].FunctionResponse
	gt.Map(t, resp.Response).HasKey("error")
}

func TestAnswerTurnFallback(t *testing.T) {
	testCases := map[string]struct {
		generate func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error)
		reason   string
	}{
		"provider error": {
			generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
				return nil, errors.New("connection refused: secret provider detail")
			},
			reason: answer.ReasonProvider,
		},
		"token limit": {
			generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
				return nil, genai.APIError{
					Code:    400,
					Status:  "INVALID_ARGUMENT",
					Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
				}
			},
			reason: answer.ReasonTokenLimit,
		},
		"empty output": {
			generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
				return &genai.GenerateContentResponse{}, nil
			},
			reason: answer.ReasonEmpty,
		},
		"endless tool calls": {
			generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
				return callResponse("loop", map[string]any{"doubt": "shop"}), nil
			},
			reason: answer.ReasonToolLoop,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			metrics := observability.NewMetrics("test")
			llm := &mockLLM{generate: tc.generate}
			o := newOrchestrator(t, llm, answer.WithMetrics(metrics))

			ans, err := o.AnswerTurn(context.Background(), student, "What is gravity?", nil)
			gt.NoError(t, err)
			gt.True(t, ans.Fallback)
			gt.Equal(t, ans.Text, answer.FallbackText)
			gt.Equal(t, ans.Reason, tc.reason)
			gt.False(t, strings.Contains(ans.Text, "secret"))
			gt.Equal(t, testutil.ToFloat64(metrics.ModelErrors.WithLabelValues("mock", tc.reason)), 1.0)
			gt.Equal(t, testutil.ToFloat64(metrics.Turns.WithLabelValues("fallback")), 1.0)
		})
	}
}

func TestAnswerTurnToolLoopLimit(t *testing.T) {
	llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		return callResponse("loop", map[string]any{"doubt": "shop"}), nil
	}}
	o := newOrchestrator(t, llm)

	ans, err := o.AnswerTurn(context.Background(), student, "shop?", nil)
	gt.NoError(t, err)
	gt.True(t, ans.Fallback)
	gt.Equal(t, llm.calls(), 8)
	gt.A(t, ans.ToolCalls).Length(8)
}

func TestAnswerTurnTimeout(t *testing.T) {
	t.Run("provider honors cancellation", func(t *testing.T) {
		llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		o := newOrchestrator(t, llm, answer.WithTimeout(20*time.Millisecond))

		ans, err := o.AnswerTurn(context.Background(), student, "What is gravity?", nil)
		gt.NoError(t, err)
		gt.True(t, ans.Fallback)
		gt.Equal(t, ans.Reason, answer.ReasonTimeout)
	})

	t.Run("stalled provider does not block the caller", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
			<-release
			return textResponse("too late"), nil
		}}
		o := newOrchestrator(t, llm, answer.WithTimeout(20*time.Millisecond))

		started := time.Now()
		ans, err := o.AnswerTurn(context.Background(), student, "What is gravity?", nil)
		gt.NoError(t, err)
		gt.True(t, ans.Fallback)
		gt.Equal(t, ans.Reason, answer.ReasonTimeout)
		gt.True(t, time.Since(started) < 5*time.Second)
	})
}

func TestAnswerTurnOpeningLine(t *testing.T) {
	teacher := model.Identity{Name: "Roy Chan Antony", RoleClass: "Teacher", Gender: model.GenderMale}

	t.Run("prepended when omitted", func(t *testing.T) {
		llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
			return textResponse("There is an assembly at 9am."), nil
		}}
		o := newOrchestrator(t, llm)

		ans, err := o.AnswerTurn(context.Background(), teacher, "What are today's announcements?", nil)
		gt.NoError(t, err)
		gt.True(t, strings.HasPrefix(ans.Text, "It is an absolute honor to welcome our esteemed Principal, Roy Chan Antony!"))
		gt.True(t, strings.HasSuffix(ans.Text, "There is an assembly at 9am."))
	})

	t.Run("kept when present", func(t *testing.T) {
		var opening string
		llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
			return textResponse(opening + "\n\nThere is an assembly at 9am."), nil
		}}
		o := newOrchestrator(t, llm)

		kb, err := grounding.New()
		gt.NoError(t, err)
		opening, err = kb.Greeting(kb.Lookup(teacher.Name), "Sir")
		gt.NoError(t, err)

		ans, err := o.AnswerTurn(context.Background(), teacher, "What are today's announcements?", nil)
		gt.NoError(t, err)
		gt.Equal(t, strings.Count(ans.Text, "absolute honor"), 1)
	})
}

func TestAnswerTurnCallerErrors(t *testing.T) {
	llm := &mockLLM{generate: func(ctx context.Context, n int, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		return textResponse("unused"), nil
	}}
	o := newOrchestrator(t, llm)

	_, err := o.AnswerTurn(context.Background(), student, "   ", nil)
	gt.True(t, errors.Is(err, model.ErrEmptyQuestion))
	gt.True(t, errors.Is(err, model.ErrCallerContract))

	_, err = o.AnswerTurn(context.Background(), model.Identity{RoleClass: "9"}, "hi", nil)
	gt.True(t, errors.Is(err, model.ErrInvalidIdentity))

	_, err = o.AnswerTurn(context.Background(), model.Identity{Name: "A"}, "hi", nil)
	gt.True(t, errors.Is(err, model.ErrInvalidIdentity))

	gt.Equal(t, llm.calls(), 0)
}
