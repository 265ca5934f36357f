package session

import "time"

// State is the connection state of a session.
type State string

const (
	StateConnecting    State = "connecting"
	StateQRPending     State = "qr_pending"
	StateAuthenticated State = "authenticated"
	StateConnected     State = "connected"
	StateDisconnected  State = "disconnected"
	StateReconnecting  State = "reconnecting"
	StateAuthFailed    State = "auth_failed"
	StateLoggedOut     State = "logged_out"
	StateDeleted       State = "deleted"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateConnecting,
	StateQRPending,
	StateAuthenticated,
	StateConnected,
	StateDisconnected,
	StateReconnecting,
	StateAuthFailed,
	StateLoggedOut,
	StateDeleted,
}

// PreReady reports whether the state is guarded by the connect watchdog.
func (s State) PreReady() bool {
	switch s {
	case StateConnecting, StateQRPending, StateAuthenticated:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves the state.
func (s State) Terminal() bool {
	return s == StateLoggedOut || s == StateDeleted
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Session is a point-in-time snapshot of one tenant connection.
type Session struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	LastActivity time.Time `json:"lastActivity"`
	RetryCount   int       `json:"retryCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastError    string    `json:"lastError,omitempty"`
}

// InboundMessage is a chat message received by an engine.
type InboundMessage struct {
	ID        string
	From      string
	Body      string
	Timestamp time.Time
}

// SendResult acknowledges an accepted outbound message.
type SendResult struct {
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types published by the manager.
const (
	EventStatus  = "status"
	EventQR      = "qr"
	EventMessage = "message"
)

// StatusPayload is published on every applied transition.
type StatusPayload struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// QRPayload carries a pairing image for a session.
type QRPayload struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}

// MessagePayload carries an inbound chat message.
type MessagePayload struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId,omitempty"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
