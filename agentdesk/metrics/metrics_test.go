package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.SessionStarted("acp", "start")
	m.SessionStarted("acp", "continue")
	m.SessionReleased()
	m.TurnFinished("success")
	m.MessageEmitted("assistant")
	m.MessageEmitted("assistant")
	m.PermissionOpened()
	m.PermissionOpened()
	m.PermissionClosed(time.Second)
	m.BackendError()

	body := scrape(t, m)
	for _, line := range []string{
		`agentdesk_sessions_started_total{backend="acp",kind="start"} 1`,
		`agentdesk_active_sessions 1`,
		`agentdesk_turns_total{outcome="success"} 1`,
		`agentdesk_messages_total{type="assistant"} 2`,
		`agentdesk_pending_permissions 1`,
		`agentdesk_permission_wait_seconds_count 1`,
		`agentdesk_backend_errors_total 1`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestMetrics_ObserveRPC(t *testing.T) {
	m := New()
	m.ObserveRPC("session/prompt", 20*time.Millisecond, nil)
	m.ObserveRPC("session/prompt", time.Millisecond, errors.New("boom"))

	body := scrape(t, m)
	assert.Contains(t, body, `agentdesk_acp_rpc_duration_seconds_count{method="session/prompt",status="ok"} 1`)
	assert.Contains(t, body, `agentdesk_acp_rpc_duration_seconds_count{method="session/prompt",status="error"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted("claude", "start")
		m.SessionReleased()
		m.TurnFinished("error")
		m.PermissionOpened()
		m.PermissionClosed(time.Second)
		m.SubscriberDropped()
		m.ObserveRPC("initialize", time.Second, nil)
	})
	assert.Nil(t, m.Registry())
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
