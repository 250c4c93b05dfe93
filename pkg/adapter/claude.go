package adapter

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// ClaudeClient serves the LLM interface with the Anthropic Messages API
type ClaudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

var _ LLM = (*ClaudeClient)(nil)

type ClaudeOption func(*ClaudeClient)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithMaxTokens(n int64) ClaudeOption {
	return func(c *ClaudeClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string, opts ...ClaudeOption) *ClaudeClient {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	c := &ClaudeClient{
		client:    &client,
		model:     string(anthropic.ModelClaudeSonnet4_5_20250929),
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClaudeClient) Provider() string { return "claude" }

func (c *ClaudeClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	params, err := toClaudeParams(contents, config)
	if err != nil {
		return nil, err
	}
	params.Model = anthropic.Model(c.model)
	params.MaxTokens = c.maxTokens

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create message", goerr.V("model", c.model))
	}

	return fromClaudeMessage(msg)
}

func toClaudeParams(contents []*genai.Content, config *genai.GenerateContentConfig) (anthropic.MessageNewParams, error) {
	var params anthropic.MessageNewParams

	if config != nil {
		if sys := contentText(config.SystemInstruction); sys != "" {
			params.System = []anthropic.TextBlockParam{{Text: sys}}
		}
		if config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*config.Temperature))
		}
		for _, t := range config.Tools {
			for _, fd := range t.FunctionDeclarations {
				schema := anthropic.ToolInputSchemaParam{}
				if fd.Parameters != nil {
					schema.Properties = schemaJSON(fd.Parameters)["properties"]
					schema.Required = fd.Parameters.Required
				}
				tool := anthropic.ToolUnionParamOfTool(schema, fd.Name)
				tool.OfTool.Description = anthropic.String(fd.Description)
				params.Tools = append(params.Tools, tool)
			}
		}
	}

	for _, content := range contents {
		if content == nil {
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, part.FunctionCall.Args, part.FunctionCall.Name))
			case part.FunctionResponse != nil:
				raw, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					return params, goerr.Wrap(err, "failed to marshal function response", goerr.V("name", part.FunctionResponse.Name))
				}
				_, isErr := part.FunctionResponse.Response["error"]
				blocks = append(blocks, anthropic.NewToolResultBlock(part.FunctionResponse.ID, string(raw), isErr))
			case part.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if content.Role == genai.RoleModel {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}

	if len(params.Messages) == 0 {
		return params, goerr.New("no message to send")
	}
	return params, nil
}

func fromClaudeMessage(msg *anthropic.Message) (*genai.GenerateContentResponse, error) {
	content := &genai.Content{Role: genai.RoleModel}

	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.Parts = append(content.Parts, &genai.Part{Text: v.Text})
		case anthropic.ToolUseBlock:
			var args map[string]any
			if len(v.Input) > 0 {
				if err := json.Unmarshal(v.Input, &args); err != nil {
					return nil, goerr.Wrap(err, "failed to parse tool input", goerr.V("name", v.Name))
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: v.ID, Name: v.Name, Args: args},
			})
		}
	}

	finish := genai.FinishReasonStop
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		finish = genai.FinishReasonMaxTokens
	}

	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: content, FinishReason: finish},
		},
	}, nil
}

func contentText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// schemaJSON renders a genai.Schema as plain JSON Schema. genai marshals
// types in upper case, which Anthropic rejects.
func schemaJSON(s *genai.Schema) map[string]any {
	out := map[string]any{}
	if s.Type != genai.TypeUnspecified && s.Type != "" {
		out["type"] = strings.ToLower(string(s.Type))
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = schemaJSON(p)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = schemaJSON(s.Items)
	}
	return out
}
