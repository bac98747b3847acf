// Package ipc provides the daemon's client-facing protocol: JSON
// lines over a unix socket. Each request gets exactly one response;
// subscribed connections additionally receive overlay pushes.
package ipc

import (
	"encoding/json"

	"offerwatchd/internal/state"
	"offerwatchd/internal/stats"
)

// Methods.
const (
	MethodSubmit    = "submit"
	MethodDecide    = "decide"
	MethodDismiss   = "dismiss"
	MethodStatus    = "status"
	MethodStats     = "stats"
	MethodSubscribe = "subscribe"
)

// Request is one client request line.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one server response line.
type Response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Push is a server-initiated line on subscribed connections. A line
// with a non-empty Event field is a push, anything else a response.
type Push struct {
	Event   string         `json:"event"`
	Overlay *state.Overlay `json:"overlay,omitempty"`
}

// PushOverlay is the event name for overlay render signals.
const PushOverlay = "overlay"

// DecideParams are the parameters of the decide method.
type DecideParams struct {
	Verdict string `json:"verdict"`
}

// StatusResult is the result of the status method.
type StatusResult struct {
	Overlay state.Overlay    `json:"overlay"`
	Metrics map[string]int64 `json:"metrics"`
}

// StatsResult is the result of the stats method.
type StatsResult struct {
	Today    stats.Daily `json:"today"`
	Goal     float64     `json:"goal"`
	Progress string      `json:"progress"`
	Percent  float64     `json:"percent"`
}
