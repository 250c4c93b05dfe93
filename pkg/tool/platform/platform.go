package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/relevance"
	"github.com/topperstoolkit/doubts/pkg/tool"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
	"google.golang.org/genai"
)

const (
	// FunctionName is the name the model calls the tool by
	FunctionName = "offer_platform_info"

	// NoMatchText is returned to the model when no service is relevant
	NoMatchText = "No relevant information found."
)

// Input is the argument of the tool. The caller's identity travels in the
// arguments, never through an ambient context.
type Input struct {
	Doubt     string `json:"doubt" jsonschema:"The user's doubt or question about the Topper's Toolkit platform"`
	UserName  string `json:"user_name,omitempty" jsonschema:"Name of the user asking, if known"`
	UserClass string `json:"user_class,omitempty" jsonschema:"Class of the user asking, or Teacher"`
}

// Tool answers meta questions about the platform (buying, printing or viewing
// notes) by scanning the service catalog. It holds no mutable state.
type Tool struct {
	scanner *relevance.Scanner
	spec    *genai.Tool
}

var _ tool.Tool = (*Tool)(nil)

func New(catalog []*model.ServiceDescriptor) (*Tool, error) {
	params, err := tool.SchemaFor[Input]()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build platform tool schema")
	}

	return &Tool{
		scanner: relevance.New(catalog),
		spec: &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        FunctionName,
					Description: "Provides information about Topper's Toolkit services: where to buy printed or PDF notes, print on demand, and where to view purchased digital notes. Use it for any question about the platform itself.",
					Parameters:  params,
				},
			},
		},
	}, nil
}

// Lookup resolves a doubt to a result. A miss is a normal outcome.
func (x *Tool) Lookup(ctx context.Context, input Input) model.ToolCallResult {
	m := x.scanner.Best(input.Doubt)
	if m == nil {
		logging.From(ctx).Debug("platform info miss", "doubt", input.Doubt)
		return model.ToolCallResult{Found: false, Text: NoMatchText}
	}

	logging.From(ctx).Debug("platform info hit", "doubt", input.Doubt, "service", m.Service.Name, "score", m.Score)
	return model.ToolCallResult{Found: true, Text: describe(input, m.Service)}
}

func (x *Tool) Spec() *genai.Tool {
	return x.spec
}

func (x *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	raw, err := json.Marshal(fc.Args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function args", goerr.V("name", fc.Name))
	}
	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse function args", goerr.V("args", string(raw)))
	}

	result := x.Lookup(ctx, input)
	return &genai.FunctionResponse{
		ID:   fc.ID,
		Name: fc.Name,
		Response: map[string]any{
			"result": result.Text,
			"found":  result.Found,
		},
	}, nil
}

func (x *Tool) Prompt(ctx context.Context) string {
	return fmt.Sprintf("You MUST call `%s` whenever the user asks a meta question about the Topper's Toolkit platform (who made it, how to buy or print notes, where purchased notes are). Pass the user's name and class in the arguments when you know them. Weave the result into your answer naturally; never say that a tool was used.", FunctionName)
}

func describe(input Input, svc *model.ServiceDescriptor) string {
	var b strings.Builder
	if name := strings.TrimSpace(input.UserName); name != "" {
		if class := strings.TrimSpace(input.UserClass); class != "" {
			fmt.Fprintf(&b, "Suggested for %s (%s).\n", name, class)
		} else {
			fmt.Fprintf(&b, "Suggested for %s.\n", name)
		}
	}

	b.WriteString(svc.Name)
	if svc.URL != "" {
		fmt.Fprintf(&b, " (%s)", svc.URL)
	}
	fmt.Fprintf(&b, ": %s\n", strings.TrimSpace(svc.Purpose))

	if len(svc.KeyUseCases) > 0 {
		fmt.Fprintf(&b, "Use it to: %s.\n", strings.Join(svc.KeyUseCases, ", "))
	}
	for _, doc := range svc.AuxiliaryDocs {
		fmt.Fprintf(&b, "See also %s: %s\n", doc.Name, doc.URL)
	}
	return strings.TrimSpace(b.String())
}
