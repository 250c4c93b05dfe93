package grounding

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/model"
	"gopkg.in/yaml.v3"
)

//go:embed data/knowledge.yaml
var defaultKnowledge []byte

// Block names exposed by Store.Block
const (
	BlockKnowledgeBase = "knowledge_base"
	BlockQuotes        = "quotes"
	BlockServices      = "services"
)

type Tier string

const (
	TierPrincipal  Tier = "principal"
	TierLeadership Tier = "leadership"
	TierTeacher    Tier = "teacher"
)

// Entry is one named person of the school directory
type Entry struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Tier        Tier     `yaml:"tier"`
	Keywords    []string `yaml:"keywords"`
	Description string   `yaml:"description"`
}

// SubjectKey is the normalized lookup key of the entry
func (x *Entry) SubjectKey() string {
	return NormalizeName(x.Name)
}

// DisplayText is the text interpolated verbatim into prompts
func (x *Entry) DisplayText() string {
	return fmt.Sprintf("%s: %s. %s", x.Title, x.Name, x.Description)
}

type PreviousTeacher struct {
	Name    string `yaml:"name"`
	Subject string `yaml:"subject"`
}

type document struct {
	Staff            []*Entry                   `yaml:"staff"`
	PreviousTeachers []PreviousTeacher          `yaml:"previous_teachers"`
	Quotes           []string                   `yaml:"quotes"`
	Greetings        map[Tier]string            `yaml:"greetings"`
	Services         []*model.ServiceDescriptor `yaml:"services"`
}

// Store holds the static knowledge loaded once per process. It has no
// mutation operations and is safe for concurrent use.
type Store struct {
	staff     []*Entry
	byKey     map[string]*Entry
	previous  []PreviousTeacher
	quotes    []string
	greetings map[Tier]*template.Template
	services  []*model.ServiceDescriptor
	blocks    map[string]string
}

type Option func(*options)

type options struct {
	data []byte
	path string
}

// WithData replaces the embedded knowledge document
func WithData(data []byte) Option {
	return func(o *options) {
		o.data = data
	}
}

// WithFile replaces the embedded knowledge document with a file. An empty path
// keeps the embedded one.
func WithFile(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// New loads the knowledge document
func New(opts ...Option) (*Store, error) {
	o := &options{data: defaultKnowledge}
	for _, opt := range opts {
		opt(o)
	}
	if o.path != "" {
		data, err := os.ReadFile(o.path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read knowledge file", goerr.V("path", o.path))
		}
		o.data = data
	}
	if len(o.data) == 0 {
		return nil, goerr.New("knowledge document is empty")
	}

	var doc document
	if err := yaml.Unmarshal(o.data, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse knowledge document")
	}

	s := &Store{
		staff:     doc.Staff,
		byKey:     make(map[string]*Entry, len(doc.Staff)),
		previous:  doc.PreviousTeachers,
		quotes:    doc.Quotes,
		greetings: make(map[Tier]*template.Template, len(doc.Greetings)),
		services:  doc.Services,
	}

	for _, e := range doc.Staff {
		key := e.SubjectKey()
		if key == "" {
			return nil, goerr.New("staff entry has no name", goerr.V("title", e.Title))
		}
		if _, dup := s.byKey[key]; dup {
			return nil, goerr.New("duplicated staff entry", goerr.V("name", e.Name), goerr.V("key", key))
		}
		e.Description = strings.TrimSpace(e.Description)
		s.byKey[key] = e
	}

	for tier, raw := range doc.Greetings {
		tmpl, err := template.New(string(tier)).Option("missingkey=error").Parse(raw)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse greeting template", goerr.V("tier", tier))
		}
		s.greetings[tier] = tmpl
	}

	s.blocks = map[string]string{
		BlockKnowledgeBase: renderKnowledgeBase(s.staff, s.previous),
		BlockQuotes:        renderQuotes(s.quotes),
		BlockServices:      renderServices(s.services),
	}

	return s, nil
}

// Lookup returns the staff entry whose normalized name equals the normalized
// input, or nil.
func (s *Store) Lookup(name string) *Entry {
	return s.byKey[NormalizeName(name)]
}

// MatchSubject returns the staff entry the question asks about, or nil. A
// name in the question always matches. A subject or role keyword matches only
// when the question also refers to a person, so "explain the laws of physics"
// is not a question about the physics teacher.
func (s *Store) MatchSubject(question string) *Entry {
	text := " " + strings.Join(tokenize(question), " ") + " "
	if strings.TrimSpace(text) == "" {
		return nil
	}

	for _, e := range s.staff {
		if key := e.SubjectKey(); key != "" && strings.Contains(text, " "+key+" ") {
			return e
		}
	}
	if !asksAboutPerson(text) {
		return nil
	}
	for _, e := range s.staff {
		for _, kw := range e.Keywords {
			phrase := strings.Join(tokenize(kw), " ")
			if phrase != "" && strings.Contains(text, " "+phrase+" ") {
				return e
			}
		}
	}
	return nil
}

// personCues are phrases that make a question about someone at school.
var personCues = []string{
	"teacher", "teachers", "teaches", "teach", "teaching", "taught",
	"sir", "maam", "madam", "mam",
	"principal", "director", "coordinator", "incharge", "in charge",
	"faculty", "staff", "educator",
}

// asksAboutPerson reports whether the padded, tokenized text contains a
// person cue as a whole phrase.
func asksAboutPerson(text string) bool {
	for _, cue := range personCues {
		if strings.Contains(text, " "+cue+" ") {
			return true
		}
	}
	return false
}

// Greeting renders the tier-specific welcome line for a recognized teacher.
// It returns an empty string when no template exists for the tier.
func (s *Store) Greeting(e *Entry, salutation string) (string, error) {
	tmpl, ok := s.greetings[e.Tier]
	if !ok {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{
		"Name":       e.Name,
		"Title":      e.Title,
		"Salutation": salutation,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render greeting", goerr.V("name", e.Name))
	}
	return strings.TrimSpace(buf.String()), nil
}

// Block returns a named text block, or an empty string if unknown
func (s *Store) Block(name string) string {
	return s.blocks[name]
}

func (s *Store) Staff() []*Entry                      { return s.staff }
func (s *Store) Quotes() []string                     { return s.quotes }
func (s *Store) Services() []*model.ServiceDescriptor { return s.services }

// SuggestableServices excludes the surface the user is already on
func (s *Store) SuggestableServices() []*model.ServiceDescriptor {
	var out []*model.ServiceDescriptor
	for _, svc := range s.services {
		if svc.Suggestable {
			out = append(out, svc)
		}
	}
	return out
}

func renderKnowledgeBase(staff []*Entry, previous []PreviousTeacher) string {
	if len(staff) == 0 && len(previous) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range staff {
		fmt.Fprintf(&b, "* **%s: %s**\n  * **Description:** %s\n", e.Title, e.Name, e.Description)
	}
	if len(previous) > 0 {
		names := make([]string, len(previous))
		for i, p := range previous {
			names[i] = fmt.Sprintf("%s (%s)", p.Name, p.Subject)
		}
		fmt.Fprintf(&b, "* **Previous Teachers:** respected educators who have contributed to our school's legacy: %s.\n",
			strings.Join(names, ", "))
	}
	return b.String()
}

func renderQuotes(quotes []string) string {
	var b strings.Builder
	for _, q := range quotes {
		fmt.Fprintf(&b, "* %q\n", q)
	}
	return b.String()
}

func renderServices(services []*model.ServiceDescriptor) string {
	var b strings.Builder
	for _, svc := range services {
		if svc.URL != "" {
			fmt.Fprintf(&b, "* **%s** (%s): %s\n", svc.Name, svc.URL, strings.TrimSpace(svc.Purpose))
		} else {
			fmt.Fprintf(&b, "* **%s**: %s\n", svc.Name, strings.TrimSpace(svc.Purpose))
		}
	}
	return b.String()
}
