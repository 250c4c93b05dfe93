package answer

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/grounding"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/answer.md
var answerPromptRaw string

var answerPromptTmpl = template.Must(template.New("answer").Option("missingkey=error").Parse(answerPromptRaw))

// DefaultHistoryLimit is the number of most recent turns sent as history
const DefaultHistoryLimit = 50

// Prompt is the model-facing context of one turn
type Prompt struct {
	Kind Kind
	// System is the rendered system instruction
	System string
	// Question is sent as the user content
	Question string
	// Opening must start the final answer when not empty
	Opening string
	// Quote is the quote mandated as the closing line, if any
	Quote string
}

// Contents returns the conversation sent to the model
func (x *Prompt) Contents() []*genai.Content {
	return []*genai.Content{
		genai.NewContentFromText(x.Question, genai.RoleUser),
	}
}

// Assembler builds prompts. It is pure given its inputs and safe for
// concurrent use.
type Assembler struct {
	kb           *grounding.Store
	policy       *RolePolicy
	historyLimit int
	toolPrompt   string
}

type AssemblerOption func(*Assembler)

func WithHistoryLimit(n int) AssemblerOption {
	return func(a *Assembler) {
		a.historyLimit = n
	}
}

// WithToolPrompt adds tool usage instructions to every prompt
func WithToolPrompt(prompt string) AssemblerOption {
	return func(a *Assembler) {
		a.toolPrompt = prompt
	}
}

func NewAssembler(kb *grounding.Store, policy *RolePolicy, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		kb:           kb,
		policy:       policy,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the prompt for a question. history is the visible
// conversation before the question, oldest first.
func (x *Assembler) Assemble(ctx context.Context, identity model.Identity, question string, history []*model.Turn) (*Prompt, error) {
	kind, err := x.policy.Classify(ctx, identity.RoleClass)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"Kind":          string(kind),
		"KnowledgeBase": x.kb.Block(grounding.BlockKnowledgeBase),
		"Name":          identity.Name,
		"FirstName":     identity.FirstName(),
		"RoleClass":     identity.RoleClass,
		"Salutation":    identity.Salutation(),
		"Opening":       "",
		"Recognized":    "",
		"Subject":       "",
		"Quote":         "",
		"ToolPrompt":    x.toolPrompt,
		"History":       linearizeHistory(history, x.historyLimit),
	}
	prompt := &Prompt{Kind: kind, Question: question}

	switch kind {
	case KindTeacher:
		if entry := x.kb.Lookup(identity.Name); entry != nil {
			opening, err := x.opening(entry, identity)
			if err != nil {
				return nil, err
			}
			prompt.Opening = opening
			params["Opening"] = opening
			params["Recognized"] = entry.DisplayText()
		}

	case KindStudent:
		if entry := x.kb.MatchSubject(question); entry != nil {
			params["Subject"] = entry.Name
			bank := x.kb.Quotes()
			prompt.Quote = usedQuotes(bank, history).firstUnused(bank)
			params["Quote"] = prompt.Quote
		}
	}

	var buf bytes.Buffer
	if err := answerPromptTmpl.Execute(&buf, params); err != nil {
		return nil, goerr.Wrap(err, "failed to execute answer prompt template")
	}
	prompt.System = buf.String()

	logging.From(ctx).Debug("prompt assembled",
		"kind", kind,
		"opening", prompt.Opening != "",
		"quote", prompt.Quote != "",
		"history", len(history),
	)
	return prompt, nil
}

func (x *Assembler) opening(entry *grounding.Entry, identity model.Identity) (string, error) {
	greeting, err := x.kb.Greeting(entry, identity.Salutation())
	if err != nil {
		return "", err
	}
	if greeting == "" {
		greeting = fmt.Sprintf("Welcome, %s! How can I help you today, %s?", entry.Name, identity.Salutation())
	}
	return greeting, nil
}
