package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
)

const (
	wsTypeTurn    = "turn"
	wsTypeClear   = "clear"
	wsTypeAnswer  = "answer"
	wsTypeCleared = "cleared"
	wsTypeError   = "error"

	wsReadTimeout  = 10 * time.Minute
	wsWriteTimeout = 10 * time.Second
)

// wsClientMessage is a message sent by the browser
type wsClientMessage struct {
	Type string `json:"type"`
	turnRequest
}

type wsServerMessage struct {
	Type string `json:"type"`
	*turnResponse
	UserID  model.UserID `json:"user_id,omitempty"`
	Cleared bool         `json:"cleared,omitempty"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleWS serves a chat connection. Messages of one connection are handled
// in order, one outstanding question at a time.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := logging.From(ctx)

	inbound := make(chan wsClientMessage, 16)
	outbound := make(chan wsServerMessage, 16)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		defer close(outbound)
		for msg := range inbound {
			// the client is gone; queued turns are dropped unanswered
			if ctx.Err() != nil {
				return
			}
			reply := s.handleWSMessage(ctx, msg)
			select {
			case outbound <- reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Warn("failed to write websocket message", "error", err)
				cancel()
				_ = conn.Close()
				return
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = wsClientMessage{Type: "invalid"}
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- msg:
		}
	}

	cancel()
	close(inbound)
	<-workerDone
	<-writerDone
}

func (s *Server) handleWSMessage(ctx context.Context, msg wsClientMessage) wsServerMessage {
	switch msg.Type {
	case wsTypeTurn:
		resp, status, err := s.submit(ctx, &msg.turnRequest)
		if resp == nil {
			return wsError(ctx, status, err)
		}
		return wsServerMessage{Type: wsTypeAnswer, turnResponse: resp, UserID: resp.UserID}

	case wsTypeClear:
		userID := model.UserID(msg.UserID)
		if userID == "" {
			userID = model.UserID(strings.TrimSpace(msg.Name))
		}
		ok, err := s.conversation.ClearSession(ctx, userID)
		if err != nil {
			return wsError(ctx, statusOf(err), err)
		}
		return wsServerMessage{Type: wsTypeCleared, UserID: userID, Cleared: ok}

	default:
		return wsServerMessage{Type: wsTypeError, Code: "invalid_client_message", Error: "unknown message type"}
	}
}

func wsError(ctx context.Context, status int, err error) wsServerMessage {
	if status == http.StatusBadRequest {
		return wsServerMessage{Type: wsTypeError, Code: "invalid_request", Error: err.Error()}
	}
	logging.From(ctx).Error("websocket request failed", "error", err)
	return wsServerMessage{Type: wsTypeError, Code: "store_unavailable", Error: genericErrorMessage}
}
