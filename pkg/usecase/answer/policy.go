package answer

import (
	"context"
	_ "embed"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
)

//go:embed policy/role.rego
var defaultRolePolicy string

// Kind is the prompt policy selected for a caller
type Kind string

const (
	KindDefault Kind = "default"
	KindTeacher Kind = "teacher"
	KindStudent Kind = "student"
)

const roleQuery = "data.role.kind"

type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// RolePolicy maps a class label to a Kind with a Rego policy. New labels
// are a policy change, not a code change.
type RolePolicy struct {
	query *rego.PreparedEvalQuery
}

type PolicyOption func(*policyOptions)

type policyOptions struct {
	path string
}

// WithPolicyFile replaces the embedded role policy. An empty path keeps the
// embedded one.
func WithPolicyFile(path string) PolicyOption {
	return func(o *policyOptions) {
		o.path = path
	}
}

func NewRolePolicy(ctx context.Context, opts ...PolicyOption) (*RolePolicy, error) {
	var o policyOptions
	for _, opt := range opts {
		opt(&o)
	}

	name, src := "role.rego", defaultRolePolicy
	if o.path != "" {
		data, err := os.ReadFile(o.path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read role policy", goerr.V("path", o.path))
		}
		name, src = o.path, string(data)
	}

	prepared, err := rego.New(
		rego.Query(roleQuery),
		rego.Module(name, src),
		rego.EnablePrintStatements(true),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare role policy", goerr.V("query", roleQuery))
	}

	return &RolePolicy{query: &prepared}, nil
}

// Classify evaluates the policy for a class label
func (x *RolePolicy) Classify(ctx context.Context, roleClass string) (Kind, error) {
	rs, err := x.query.Eval(ctx,
		rego.EvalInput(map[string]any{"class": roleClass}),
		rego.EvalPrintHook(&regoPrintHook{ctx: ctx}),
	)
	if err != nil {
		return KindDefault, goerr.Wrap(err, "failed to evaluate role policy", goerr.V("class", roleClass))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return KindDefault, nil
	}

	s, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return KindDefault, goerr.New("role policy returned non-string kind",
			goerr.V("value", rs[0].Expressions[0].Value))
	}

	switch k := Kind(s); k {
	case KindTeacher, KindStudent, KindDefault:
		return k, nil
	default:
		return KindDefault, goerr.New("role policy returned unknown kind", goerr.V("kind", s))
	}
}
