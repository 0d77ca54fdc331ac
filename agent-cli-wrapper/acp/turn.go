package acp

import (
	"encoding/json"
	"strings"

	"github.com/bazelment/agentdesk/agent-cli-wrapper/agentstream"
)

// turnState tracks whether a turn may still produce its result.
type turnState int

const (
	// turnActive: session/prompt is outstanding.
	turnActive turnState = iota
	// turnPendingFinalization: session/prompt returned without saying the
	// turn is over; a later session_info_update decides.
	turnPendingFinalization
	// turnFinalized: the result (or cancellation) has been emitted.
	turnFinalized
)

func (s turnState) String() string {
	switch s {
	case turnActive:
		return "active"
	case turnPendingFinalization:
		return "pending_finalization"
	case turnFinalized:
		return "finalized"
	}
	return "unknown"
}

// turn is the per-prompt accumulator. It is guarded by the runner's mutex.
type turn struct {
	toolUses    map[string]bool
	toolResults map[string]bool
	text        strings.Builder
	errText     string
	state       turnState
	streaming   bool
	activity    bool
}

func newTurn() *turn {
	return &turn{
		toolUses:    make(map[string]bool),
		toolResults: make(map[string]bool),
	}
}

// outcome is how a turn ended.
type outcome = agentstream.ResultSubtype

// signals are the optional completion hints agents put on prompt
// responses and session_info_update.
type signals struct {
	StopReason      string `json:"stopReason"`
	StopReasonSnake string `json:"stop_reason"`
	Status          string `json:"status"`
	State           string `json:"state"`
	Done            *bool  `json:"done"`
	Final           *bool  `json:"final"`
	Completed       *bool  `json:"completed"`
	IsComplete      *bool  `json:"isComplete"`
}

func parseSignals(raw json.RawMessage) signals {
	var s signals
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// decide reports the outcome the signals encode, if any.
func (s signals) decide() (outcome, bool) {
	if r := firstNonEmpty(s.StopReason, s.StopReasonSnake); r != "" {
		return stopReasonOutcome(r), true
	}
	for _, b := range []*bool{s.Done, s.Final, s.Completed, s.IsComplete} {
		if b != nil && *b {
			if o, ok := statusOutcome(firstNonEmpty(s.Status, s.State)); ok {
				return o, true
			}
			return agentstream.ResultSuccess, true
		}
	}
	return statusOutcome(firstNonEmpty(s.Status, s.State))
}

func stopReasonOutcome(reason string) outcome {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "cancel"):
		return agentstream.ResultCancelled
	case strings.Contains(r, "error"), strings.Contains(r, "fail"), strings.Contains(r, "refusal"):
		return agentstream.ResultError
	}
	return agentstream.ResultSuccess
}

// statusOutcome classifies a free-form status string. Statuses that do
// not name an end state decide nothing.
func statusOutcome(status string) (outcome, bool) {
	s := strings.ToLower(status)
	switch {
	case s == "", strings.Contains(s, "pending"), strings.Contains(s, "running"), strings.Contains(s, "progress"):
		return "", false
	case strings.Contains(s, "cancel"), strings.Contains(s, "abort"):
		return agentstream.ResultCancelled, true
	case strings.Contains(s, "fail"), strings.Contains(s, "error"):
		return agentstream.ResultError, true
	case strings.Contains(s, "complete"), strings.Contains(s, "done"), strings.Contains(s, "finish"),
		strings.Contains(s, "end"), strings.Contains(s, "success"), strings.Contains(s, "idle"):
		return agentstream.ResultSuccess, true
	}
	return "", false
}

// isRunningStatus reports whether a tool_call_update status is still
// in flight. Updates without a status are progress updates too.
func isRunningStatus(status string) bool {
	s := strings.ToLower(status)
	return s == "" || strings.Contains(s, "running") || strings.Contains(s, "pending") ||
		strings.Contains(s, "progress")
}

// isErrorStatus reports whether a terminal tool status is a failure.
func isErrorStatus(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "fail") || strings.Contains(s, "error")
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
