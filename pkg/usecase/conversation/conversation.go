package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/adapter"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/repository"
	"github.com/topperstoolkit/doubts/pkg/usecase/answer"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
)

// ErrExportDisabled is returned by Export when no transcript storage is set
var ErrExportDisabled = goerr.New("transcript export is not configured")

// Answerer answers one turn. *answer.Orchestrator implements it.
type Answerer interface {
	AnswerTurn(ctx context.Context, identity model.Identity, question string, prior []*model.Turn) (*answer.Answer, error)
}

// UseCase ties the session store and the answer orchestrator together
type UseCase struct {
	repo     repository.Repository
	answerer Answerer
	storage  adapter.Storage
	metrics  *observability.Metrics
	now      func() time.Time
}

type Option func(*UseCase)

// WithStorage enables transcript export
func WithStorage(storage adapter.Storage) Option {
	return func(uc *UseCase) {
		uc.storage = storage
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(uc *UseCase) {
		uc.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

func New(repo repository.Repository, answerer Answerer, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:     repo,
		answerer: answerer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type TurnRequest struct {
	// UserID defaults to the trimmed display name when empty
	UserID   model.UserID
	Identity model.Identity
	Question string
}

func (x *TurnRequest) userID() model.UserID {
	if id := model.UserID(strings.TrimSpace(string(x.UserID))); id != "" {
		return id
	}
	return x.Identity.DefaultUserID()
}

type TurnResponse struct {
	UserID          model.UserID      `json:"user_id"`
	UserTurnID      model.TurnID      `json:"user_turn_id"`
	AssistantTurnID model.TurnID      `json:"turn_id,omitempty"`
	Answer          string            `json:"answer"`
	Fallback        bool              `json:"fallback"`
	ToolCalls       []answer.ToolCall `json:"tool_calls,omitempty"`
}

// SubmitTurn persists the question, answers it and persists the answer.
// Persisting the answer and generating it are independent: when the
// assistant turn cannot be stored, the response is returned together with
// an error wrapping repository.ErrStoreWrite.
func (x *UseCase) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if err := req.Identity.Validate(); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, goerr.Wrap(model.ErrEmptyQuestion, "question is empty", goerr.V("name", req.Identity.Name))
	}
	userID := req.userID()

	ctx = logging.Attach(ctx, "user_id", userID)

	prior, err := x.repo.ReadVisible(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history", goerr.V("user_id", userID))
	}

	userTurnID, err := x.repo.Append(ctx, userID, model.NewTurn(model.RoleUser, question))
	if err != nil {
		x.metrics.ObserveStoreError("append")
		return nil, goerr.Wrap(err, "failed to persist user turn", goerr.V("user_id", userID))
	}

	ans, err := x.answerer.AnswerTurn(ctx, req.Identity, question, prior)
	if err != nil {
		return nil, err
	}

	resp := &TurnResponse{
		UserID:     userID,
		UserTurnID: userTurnID,
		Answer:     ans.Text,
		Fallback:   ans.Fallback,
		ToolCalls:  ans.ToolCalls,
	}

	assistantTurnID, err := x.repo.Append(ctx, userID, model.NewTurn(model.RoleAssistant, ans.Text))
	if err != nil {
		x.metrics.ObserveStoreError("append")
		return resp, goerr.Wrap(err, "failed to persist assistant turn", goerr.V("user_id", userID))
	}
	resp.AssistantTurnID = assistantTurnID

	logging.From(ctx).Info("turn answered",
		"fallback", ans.Fallback,
		"tool_calls", len(ans.ToolCalls),
		"history", len(prior),
	)
	return resp, nil
}

// GetHistory returns the visible turns, or every turn when includeArchived
func (x *UseCase) GetHistory(ctx context.Context, userID model.UserID, includeArchived bool) ([]*model.Turn, error) {
	if includeArchived {
		return x.repo.ReadAll(ctx, userID)
	}
	return x.repo.ReadVisible(ctx, userID)
}

// ClearSession archives the visible history. Archived turns stay readable
// through GetHistory with includeArchived.
func (x *UseCase) ClearSession(ctx context.Context, userID model.UserID) (bool, error) {
	n, err := x.repo.ArchiveAll(ctx, userID)
	if err != nil {
		x.metrics.ObserveStoreError("archive_all")
		return false, goerr.Wrap(err, "failed to clear session", goerr.V("user_id", userID))
	}
	logging.From(ctx).Info("session cleared", "user_id", userID, "archived", n)
	return true, nil
}

func (x *UseCase) HasHistory(ctx context.Context, userID model.UserID) (bool, error) {
	return x.repo.HasVisibleHistory(ctx, userID)
}
