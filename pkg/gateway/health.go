package gateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

const (
	healthStarting int32 = iota
	healthReady
	healthDraining
)

// Health tracks gateway readiness. It is safe for concurrent use.
type Health struct {
	state atomic.Int32
}

// NewHealth creates a Health in the starting state.
func NewHealth() *Health {
	return &Health{}
}

// SetReady marks the gateway as accepting traffic.
func (h *Health) SetReady() {
	h.state.Store(healthReady)
}

// SetDraining marks the gateway as shutting down.
func (h *Health) SetDraining() {
	h.state.Store(healthDraining)
}

// IsReady returns true when the state is ready.
func (h *Health) IsReady() bool {
	return h.state.Load() == healthReady
}

// State returns the current state as a human-readable string.
func (h *Health) State() string {
	switch h.state.Load() {
	case healthReady:
		return "ready"
	case healthDraining:
		return "draining"
	default:
		return "starting"
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

// LivenessHandler always responds 200 OK.
func (*Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 when ready and 503 otherwise.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusServiceUnavailable
		if h.IsReady() {
			code = http.StatusOK
		}
		writeJSON(w, code, healthResponse{Status: h.State()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
