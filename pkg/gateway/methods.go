package gateway

import (
	"context"
	"time"

	"github.com/harun/wagateway/internal/tracing"
	"github.com/harun/wagateway/pkg/session"
)

// SessionController is the part of the session manager the control API
// drives.
type SessionController interface {
	Create(ctx context.Context, id string) (session.Session, error)
	SendMessage(ctx context.Context, id, to, body string) (session.SendResult, error)
	Logout(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Status() []session.Session
}

var nonEmptyString = map[string]interface{}{"type": "string", "minLength": 1}

func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var (
	sessionIDSchema = objectSchema(
		[]string{"sessionId"},
		map[string]interface{}{"sessionId": nonEmptyString},
	)
	sendSchema = objectSchema(
		[]string{"sessionId", "to", "message"},
		map[string]interface{}{
			"sessionId": nonEmptyString,
			"to":        nonEmptyString,
			"message":   nonEmptyString,
		},
	)
	emptySchema = objectSchema(nil, map[string]interface{}{})
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethodWithSchema("sessions.create", sessionIDSchema, s.handleSessionsCreate)
	_ = s.router.RegisterMethodWithSchema("sessions.send", sendSchema, s.handleSessionsSend)
	_ = s.router.RegisterMethodWithSchema("sessions.status", emptySchema, s.handleSessionsStatus)
	_ = s.router.RegisterMethodWithSchema("sessions.logout", sessionIDSchema, s.handleSessionsLogout)
	_ = s.router.RegisterMethodWithSchema("sessions.delete", sessionIDSchema, s.handleSessionsDelete)
	_ = s.router.RegisterMethodWithSchema("gateway.clients", emptySchema, s.handleGatewayClients)
}

func (s *Server) handleSessionsCreate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := params["sessionId"].(string)
	ctx = tracing.WithSessionID(ctx, id)

	before, existed := s.sessionState(id)
	snap, err := s.sessions.Create(ctx, id)
	s.audit.RecordSession(ctx, "sessions.create", err)
	if err != nil {
		return nil, err
	}

	message := "Session creation started"
	if existed && !before.Terminal() {
		message = "Session already active"
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("state", string(snap.State)).
		Msg(message)

	return map[string]interface{}{
		"sessionId": snap.ID,
		"state":     snap.State,
		"message":   message,
	}, nil
}

func (s *Server) handleSessionsSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := params["sessionId"].(string)
	ctx = tracing.WithSessionID(ctx, id)

	res, err := s.sessions.SendMessage(ctx, id, params["to"].(string), params["message"].(string))
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sessionId": res.SessionID,
		"messageId": res.MessageID,
		"to":        res.To,
		"timestamp": res.Timestamp.UTC().Format(time.RFC3339Nano),
	}, nil
}

type sessionStatus struct {
	ID           string        `json:"id"`
	State        session.State `json:"state"`
	LastActivity time.Time     `json:"lastActivity"`
	RetryCount   int           `json:"retryCount"`
	LastError    string        `json:"lastError,omitempty"`
}

func (s *Server) handleSessionsStatus(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	list := s.sessions.Status()
	out := make([]sessionStatus, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionStatus{
			ID:           sess.ID,
			State:        sess.State,
			LastActivity: sess.LastActivity,
			RetryCount:   sess.RetryCount,
			LastError:    sess.LastError,
		})
	}
	return map[string]interface{}{"sessions": out}, nil
}

func (s *Server) handleSessionsLogout(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := params["sessionId"].(string)
	ctx = tracing.WithSessionID(ctx, id)
	err := s.sessions.Logout(ctx, id)
	s.audit.RecordSession(ctx, "sessions.logout", err)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleSessionsDelete(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := params["sessionId"].(string)
	ctx = tracing.WithSessionID(ctx, id)
	err := s.sessions.Delete(ctx, id)
	s.audit.RecordSession(ctx, "sessions.delete", err)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleGatewayClients(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients":     s.clients.GetConnectedClients(),
		"subscribers": s.hub.Subscribers(),
	}, nil
}

func (s *Server) sessionState(id string) (session.State, bool) {
	for _, sess := range s.sessions.Status() {
		if sess.ID == id {
			return sess.State, true
		}
	}
	return "", false
}
