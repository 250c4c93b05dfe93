package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/tool/platform"
	"github.com/topperstoolkit/doubts/pkg/usecase/conversation"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
)

// genericErrorMessage is the only failure text a user sees for server side errors
const genericErrorMessage = "Something went wrong. Please try again in a moment."

type Conversation interface {
	SubmitTurn(ctx context.Context, req conversation.TurnRequest) (*conversation.TurnResponse, error)
	GetHistory(ctx context.Context, userID model.UserID, includeArchived bool) ([]*model.Turn, error)
	ClearSession(ctx context.Context, userID model.UserID) (bool, error)
	HasHistory(ctx context.Context, userID model.UserID) (bool, error)
}

type PlatformInfo interface {
	Lookup(ctx context.Context, input platform.Input) model.ToolCallResult
}

type Server struct {
	conversation Conversation
	platform     PlatformInfo
	metrics      *observability.Metrics
	mcp          http.Handler
	upgrader     websocket.Upgrader
}

type Option func(*Server)

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithMCPHandler mounts a streamable HTTP MCP endpoint at /mcp
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) {
		s.mcp = h
	}
}

// WithAllowAnyOrigin accepts websocket connections from any origin
func WithAllowAnyOrigin() Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

func New(conv Conversation, info PlatformInfo, opts ...Option) *Server {
	s := &Server{
		conversation: conv,
		platform:     info,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.withLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Post("/v1/turns", s.handleSubmitTurn)
	r.Get("/v1/users/{userID}/history", s.handleGetHistory)
	r.Delete("/v1/users/{userID}/history", s.handleClearHistory)
	r.Get("/v1/users/{userID}/history/exists", s.handleHasHistory)
	r.Post("/v1/tools/platform-info", s.handlePlatformInfo)
	r.Get("/v1/ws", s.handleWS)
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}

	return r
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.Attach(r.Context(),
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type turnRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name"`
	Class    string `json:"class"`
	Gender   string `json:"gender,omitempty"`
	Question string `json:"question"`
}

func (x *turnRequest) toUseCase() (conversation.TurnRequest, error) {
	gender, err := model.ParseGender(x.Gender)
	if err != nil {
		return conversation.TurnRequest{}, err
	}
	return conversation.TurnRequest{
		UserID: model.UserID(x.UserID),
		Identity: model.Identity{
			Name:      strings.TrimSpace(x.Name),
			RoleClass: strings.TrimSpace(x.Class),
			Gender:    gender,
		},
		Question: x.Question,
	}, nil
}

type turnResponse struct {
	*conversation.TurnResponse
	// Persisted is false when the answer could not be stored
	Persisted bool `json:"persisted"`
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}

	resp, status, err := s.submit(r.Context(), &req)
	if resp == nil {
		s.respondFailure(w, r, status, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// submit runs a turn. A non-nil response is returned whenever an answer
// exists, even if storing it failed.
func (s *Server) submit(ctx context.Context, req *turnRequest) (*turnResponse, int, error) {
	input, err := req.toUseCase()
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	resp, err := s.conversation.SubmitTurn(ctx, input)
	if resp != nil {
		if err != nil {
			logging.From(ctx).Error("answer generated but not persisted", "error", err)
		}
		return &turnResponse{TurnResponse: resp, Persisted: err == nil}, http.StatusOK, nil
	}
	return nil, statusOf(err), err
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID := model.UserID(chi.URLParam(r, "userID"))
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	turns, err := s.conversation.GetHistory(r.Context(), userID, includeArchived)
	if err != nil {
		s.respondFailure(w, r, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"turns":   turns,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := model.UserID(chi.URLParam(r, "userID"))

	ok, err := s.conversation.ClearSession(r.Context(), userID)
	if err != nil {
		s.respondFailure(w, r, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cleared": ok})
}

func (s *Server) handleHasHistory(w http.ResponseWriter, r *http.Request) {
	userID := model.UserID(chi.URLParam(r, "userID"))

	exists, err := s.conversation.HasHistory(r.Context(), userID)
	if err != nil {
		s.respondFailure(w, r, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"exists": exists})
}

func (s *Server) handlePlatformInfo(w http.ResponseWriter, r *http.Request) {
	var input platform.Input
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(input.Doubt) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "doubt is required")
		return
	}

	result := s.platform.Lookup(r.Context(), input)
	respondJSON(w, http.StatusOK, map[string]any{
		"found": result.Found,
		"text":  result.Text,
	})
}

func statusOf(err error) int {
	if errors.Is(err, model.ErrCallerContract) {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

// respondFailure hides internal detail from server side failures
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status == http.StatusBadRequest {
		respondError(w, status, "invalid_request", err.Error())
		return
	}
	logging.From(r.Context()).Error("request failed", "error", err)
	respondError(w, status, "store_unavailable", genericErrorMessage)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
