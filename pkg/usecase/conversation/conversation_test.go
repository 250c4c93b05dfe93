package conversation_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/topperstoolkit/doubts/pkg/grounding"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/repository"
	"github.com/topperstoolkit/doubts/pkg/usecase/answer"
	"github.com/topperstoolkit/doubts/pkg/usecase/conversation"
	"google.golang.org/genai"
)

type mockAnswerer struct {
	mu    sync.Mutex
	prior [][]*model.Turn
	fn    func(question string) *answer.Answer
}

func (m *mockAnswerer) AnswerTurn(ctx context.Context, identity model.Identity, question string, prior []*model.Turn) (*answer.Answer, error) {
	m.mu.Lock()
	m.prior = append(m.prior, prior)
	m.mu.Unlock()
	return m.fn(question), nil
}

func echo() *mockAnswerer {
	return &mockAnswerer{fn: func(q string) *answer.Answer {
		return &answer.Answer{Text: "answer to " + q}
	}}
}

// failingRepo fails the nth Append (1-based)
type failingRepo struct {
	repository.Repository
	failAt int
	count  int
}

func (r *failingRepo) Append(ctx context.Context, userID model.UserID, turn *model.Turn) (model.TurnID, error) {
	r.count++
	if r.count == r.failAt {
		return "", goerr.Wrap(repository.ErrStoreWrite, "injected")
	}
	return r.Repository.Append(ctx, userID, turn)
}

type memoryStorage struct {
	objects map[string]*bytes.Buffer
}

type closer struct {
	*bytes.Buffer
}

func (closer) Close() error { return nil }

func (s *memoryStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	s.objects[key] = buf
	return closer{buf}, nil
}

func (s *memoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	buf, ok := s.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

var aryan = model.Identity{Name: "Aryan Gupta", RoleClass: "9"}

func TestSubmitTurn(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	ans := echo()
	uc := conversation.New(repo, ans)

	resp, err := uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: "  first  "})
	gt.NoError(t, err)
	gt.Equal(t, resp.UserID, model.UserID("Aryan Gupta"))
	gt.Equal(t, resp.Answer, "answer to first")
	gt.NotEqual(t, resp.AssistantTurnID, model.TurnID(""))

	_, err = uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: "second"})
	gt.NoError(t, err)

	// prior turns never include the question being answered
	gt.A(t, ans.prior[0]).Length(0)
	gt.A(t, ans.prior[1]).Length(2)
	gt.Equal(t, ans.prior[1][0].Content, "first")
	gt.Equal(t, ans.prior[1][1].Content, "answer to first")

	history, err := uc.GetHistory(ctx, "Aryan Gupta", false)
	gt.NoError(t, err)
	gt.A(t, history).Length(4)
	gt.Equal(t, history[0].ID, resp.UserTurnID)
	gt.Equal(t, history[1].ID, resp.AssistantTurnID)
	gt.Equal(t, history[1].Role, model.RoleAssistant)
}

func TestSubmitTurnExplicitUserID(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := conversation.New(repo, echo())

	_, err := uc.SubmitTurn(ctx, conversation.TurnRequest{UserID: "student-42", Identity: aryan, Question: "hi"})
	gt.NoError(t, err)

	has, err := uc.HasHistory(ctx, "student-42")
	gt.NoError(t, err)
	gt.True(t, has)

	has, err = uc.HasHistory(ctx, "Aryan Gupta")
	gt.NoError(t, err)
	gt.False(t, has)
}

func TestSubmitTurnCallerErrors(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := conversation.New(repo, echo())

	_, err := uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: " "})
	gt.True(t, errors.Is(err, model.ErrEmptyQuestion))

	_, err = uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: model.Identity{Name: "x"}, Question: "q"})
	gt.True(t, errors.Is(err, model.ErrInvalidIdentity))

	all, err := repo.ReadAll(ctx, "x")
	gt.NoError(t, err)
	gt.A(t, all).Length(0)
}

func TestSubmitTurnModelFailurePersistsFallback(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	kb, err := grounding.New()
	gt.NoError(t, err)
	policy, err := answer.NewRolePolicy(ctx)
	gt.NoError(t, err)
	orchestrator := answer.New(failingLLM{}, answer.NewAssembler(kb, policy))
	uc := conversation.New(repo, orchestrator)

	resp, err := uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: "What is gravity?"})
	gt.NoError(t, err)
	gt.True(t, resp.Fallback)
	gt.Equal(t, resp.Answer, answer.FallbackText)

	history, err := uc.GetHistory(ctx, resp.UserID, false)
	gt.NoError(t, err)
	gt.A(t, history).Length(2)
	gt.Equal(t, history[1].Content, answer.FallbackText)
}

type failingLLM struct{}

func (failingLLM) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return nil, errors.New("provider down")
}

func (failingLLM) Provider() string { return "failing" }

func TestSubmitTurnStoreWriteErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("user turn not persisted skips the model", func(t *testing.T) {
		ans := echo()
		metrics := observability.NewMetrics("test")
		uc := conversation.New(&failingRepo{Repository: repository.NewMemory(), failAt: 1}, ans,
			conversation.WithMetrics(metrics))

		resp, err := uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: "q"})
		gt.V(t, resp).Nil()
		gt.True(t, errors.Is(err, repository.ErrStoreWrite))
		gt.A(t, ans.prior).Length(0)
		gt.Equal(t, testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("append")), 1.0)
	})

	t.Run("assistant turn not persisted still returns the answer", func(t *testing.T) {
		metrics := observability.NewMetrics("test")
		uc := conversation.New(&failingRepo{Repository: repository.NewMemory(), failAt: 2}, echo(),
			conversation.WithMetrics(metrics))

		resp, err := uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: "q"})
		gt.True(t, errors.Is(err, repository.ErrStoreWrite))
		gt.V(t, resp).NotNil()
		gt.Equal(t, resp.Answer, "answer to q")
		gt.Equal(t, resp.AssistantTurnID, model.TurnID(""))
		gt.Equal(t, testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("append")), 1.0)
	})
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	uc := conversation.New(repo, echo())

	for _, q := range []string{"one", "two"} {
		_, err := uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: q})
		gt.NoError(t, err)
	}

	ok, err := uc.ClearSession(ctx, "Aryan Gupta")
	gt.NoError(t, err)
	gt.True(t, ok)

	visible, err := uc.GetHistory(ctx, "Aryan Gupta", false)
	gt.NoError(t, err)
	gt.A(t, visible).Length(0)

	all, err := uc.GetHistory(ctx, "Aryan Gupta", true)
	gt.NoError(t, err)
	gt.A(t, all).Length(4)
	for _, turn := range all {
		gt.True(t, turn.Archived)
	}

	has, err := uc.HasHistory(ctx, "Aryan Gupta")
	gt.NoError(t, err)
	gt.False(t, has)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	storage := &memoryStorage{objects: map[string]*bytes.Buffer{}}
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	uc := conversation.New(repo, echo(),
		conversation.WithStorage(storage),
		conversation.WithClock(func() time.Time { return now }),
	)

	_, err := uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: "one"})
	gt.NoError(t, err)
	_, err = uc.ClearSession(ctx, "Aryan Gupta")
	gt.NoError(t, err)
	_, err = uc.SubmitTurn(ctx, conversation.TurnRequest{Identity: aryan, Question: "two"})
	gt.NoError(t, err)

	key, err := uc.Export(ctx, "Aryan Gupta")
	gt.NoError(t, err)
	gt.Equal(t, key, "Aryan%20Gupta/20260301T103000Z.jsonl")

	r, err := storage.Get(ctx, key)
	gt.NoError(t, err)
	var turns []model.Turn
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var turn model.Turn
		gt.NoError(t, json.Unmarshal(scanner.Bytes(), &turn))
		turns = append(turns, turn)
	}
	gt.A(t, turns).Length(4)
	gt.True(t, turns[0].Archived)
	gt.False(t, turns[3].Archived)
	gt.Equal(t, turns[3].Content, "answer to two")
}

func TestExportDisabled(t *testing.T) {
	uc := conversation.New(repository.NewMemory(), echo())
	_, err := uc.Export(context.Background(), "someone")
	gt.True(t, errors.Is(err, conversation.ErrExportDisabled))
}
