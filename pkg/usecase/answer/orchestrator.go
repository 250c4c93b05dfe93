package answer

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/adapter"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/tool"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
	"google.golang.org/genai"
)

// FallbackText is the only text a user sees when a turn cannot be answered
const FallbackText = "I'm having trouble connecting right now. Please try again in a moment."

const (
	// Tool call limit
	maxIterations = 8

	DefaultTimeout     = 60 * time.Second
	DefaultTemperature = float32(0.7)
)

// ToolCall records one tool invocation made during a turn
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result"`
	Failed bool           `json:"failed,omitempty"`
}

// Answer is the outcome of one turn
type Answer struct {
	Text string `json:"text"`
	// Fallback is set when Text is FallbackText because the model failed
	Fallback  bool       `json:"fallback"`
	Reason    string     `json:"reason,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Orchestrator drives one conversational turn. It has no side effects other
// than the model and tool calls; persistence belongs to the caller.
type Orchestrator struct {
	llm         adapter.LLM
	assembler   *Assembler
	registry    *tool.Registry
	metrics     *observability.Metrics
	timeout     time.Duration
	temperature float32
}

type Option func(*Orchestrator)

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithTemperature(t float32) Option {
	return func(o *Orchestrator) {
		o.temperature = t
	}
}

func WithRegistry(registry *tool.Registry) Option {
	return func(o *Orchestrator) {
		o.registry = registry
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

func New(llm adapter.LLM, assembler *Assembler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:         llm,
		assembler:   assembler,
		timeout:     DefaultTimeout,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AnswerTurn answers question for identity given the prior visible turns.
// Only caller contract violations are returned as errors; every model or
// tool failure becomes an Answer carrying FallbackText.
func (x *Orchestrator) AnswerTurn(ctx context.Context, identity model.Identity, question string, prior []*model.Turn) (*Answer, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, goerr.Wrap(model.ErrEmptyQuestion, "question is empty", goerr.V("name", identity.Name))
	}

	logger := logging.From(ctx)
	started := time.Now()
	defer func() { x.metrics.ObserveAnswerLatency(time.Since(started)) }()

	prompt, err := x.assembler.Assemble(ctx, identity, question, prior)
	if err != nil {
		logger.Error("failed to assemble prompt", "error", err)
		return x.fallback(ReasonPrompt, nil), nil
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	text, calls, err := x.generate(ctx, prompt)
	if err != nil {
		reason := classifyModelError(err)
		x.metrics.ObserveModelError(x.llm.Provider(), reason)
		logger.Error("model invocation failed",
			"error", err,
			"reason", reason,
			"provider", x.llm.Provider(),
			"tool_calls", len(calls),
		)
		return x.fallback(reason, calls), nil
	}

	if prompt.Opening != "" && !startsWithOpening(text, prompt.Opening) {
		logger.Warn("model omitted the mandatory opening line, prepending it")
		text = prompt.Opening + "\n\n" + text
	}

	x.metrics.ObserveTurn("answered")
	return &Answer{Text: text, ToolCalls: calls}, nil
}

func (x *Orchestrator) fallback(reason string, calls []ToolCall) *Answer {
	x.metrics.ObserveTurn("fallback")
	return &Answer{
		Text:      FallbackText,
		Fallback:  true,
		Reason:    reason,
		ToolCalls: calls,
	}
}

type generated struct {
	resp *genai.GenerateContentResponse
	err  error
}

// call bounds a single model request by ctx even when the provider does not
// honor cancellation. The goroutine exits once the provider returns.
func (x *Orchestrator) call(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ch := make(chan generated, 1)
	go func() {
		resp, err := x.llm.GenerateContent(ctx, contents, config)
		ch <- generated{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "model invocation cancelled", goerr.V("provider", x.llm.Provider()))
	case r := <-ch:
		return r.resp, r.err
	}
}

// generate runs the function calling loop until the model answers in text
func (x *Orchestrator) generate(ctx context.Context, prompt *Prompt) (string, []ToolCall, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, ""),
		Temperature:       &x.temperature,
	}
	if x.registry != nil {
		config.Tools = x.registry.Specs()
	}

	contents := prompt.Contents()
	toolCalls := make([]ToolCall, 0)

	for i := 0; i < maxIterations; i++ {
		resp, err := x.call(ctx, contents, config)
		if err != nil {
			return "", toolCalls, goerr.Wrap(err, "failed to generate content", goerr.V("iteration", i+1))
		}

		var text strings.Builder
		var functionResponses []*genai.Part

		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			contents = append(contents, candidate.Content)

			for _, part := range candidate.Content.Parts {
				if part.Text != "" && !part.Thought {
					text.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					funcResp, call := x.executeTool(ctx, *part.FunctionCall)
					toolCalls = append(toolCalls, call)
					functionResponses = append(functionResponses, &genai.Part{FunctionResponse: funcResp})
				}
			}
		}

		if len(functionResponses) == 0 {
			answer := strings.TrimSpace(text.String())
			if answer == "" {
				return "", toolCalls, goerr.Wrap(errEmptyResponse, "no answer text", goerr.V("iteration", i+1))
			}
			return answer, toolCalls, nil
		}

		// All function responses go back as a single Content
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: functionResponses,
		})
	}

	return "", toolCalls, goerr.Wrap(errToolLoop, "no answer", goerr.V("max_iterations", maxIterations))
}

// executeTool never fails the turn. Errors go back to the model as an
// error response so it can answer without the tool.
func (x *Orchestrator) executeTool(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, ToolCall) {
	logger := logging.From(ctx)
	call := ToolCall{Name: fc.Name, Args: fc.Args}

	resp, err := x.registry.Execute(ctx, fc)
	if err != nil {
		logger.Warn("tool execution failed", "error", err, "tool", fc.Name)
		x.metrics.ObserveToolCall(fc.Name, "error")
		call.Failed = true
		call.Result = err.Error()
		return &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: map[string]any{"error": "tool is unavailable"},
		}, call
	}

	if result, ok := resp.Response["result"].(string); ok {
		call.Result = result
	}
	outcome := "hit"
	if found, ok := resp.Response["found"].(bool); ok && !found {
		outcome = "miss"
	}
	x.metrics.ObserveToolCall(fc.Name, outcome)
	logger.Debug("tool executed", "tool", fc.Name, "outcome", outcome)

	if resp.ID == "" {
		resp.ID = fc.ID
	}
	return resp, call
}

func startsWithOpening(text, opening string) bool {
	norm := func(s string) string {
		s = strings.TrimLeft(s, " >*#\n\t")
		return normalizeQuote(s)
	}
	return strings.HasPrefix(norm(text), norm(opening))
}
