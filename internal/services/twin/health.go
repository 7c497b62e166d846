package twin

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthHandler struct {
	m *Manager
}

func NewHealthHandler(m *Manager) http.Handler { return &healthHandler{m: m} }

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		Running         bool    `json:"running"`
		Connected       bool    `json:"connected"`
		ModelsLoaded    bool    `json:"models_loaded"`
		ModelStates     int     `json:"model_states"`
		PendingCommands int     `json:"pending_commands"`
		Breaker         string  `json:"breaker"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
	}
	m := h.m
	st := status{
		Running:         m.IsRunning(),
		Connected:       m.transport != nil && m.transport.IsConnected(),
		ModelsLoaded:    m.registry.HasSuccessfulDataLoad(),
		ModelStates:     len(m.registry.GetAllModelStates()),
		PendingCommands: m.dispatcher.Pending(),
		Breaker:         m.dispatcher.BreakerState().String(),
	}
	sinkOK := true
	if m.sink != nil {
		st.LastWriteErrorS = m.sink.LastErrorAge().Seconds()
		sinkOK = m.sink.LastErrorAge() > 30*time.Second
	}

	switch {
	case st.Running && st.Connected && st.ModelsLoaded && sinkOK:
		st.Status = "ok"
	case st.Running && (st.Connected || st.ModelsLoaded):
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only when every dependency is usable.
type readyHandler struct {
	m        *Manager
	minError time.Duration
}

func NewReadyHandler(m *Manager, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{m: m, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	m := h.m
	ready := m.IsRunning() && m.registry.HasSuccessfulDataLoad() &&
		m.transport != nil && m.transport.IsConnected() &&
		(m.sink == nil || m.sink.LastErrorAge() > h.minError)
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
