// SPDX-License-Identifier: MIT

package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/hidocu/internal/log"
)

func capture(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return newLogger(zerolog.New(&buf)), &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestLogger_Log(t *testing.T) {
	l, buf := capture(t)
	l.Log(Event{
		Type:     EventSyncStart,
		Actor:    ActorSystem,
		Action:   "auto-sync",
		Resource: "HD1-0001",
		Result:   ResultStarted,
		Details:  map[string]string{"files": "3"},
	})

	m := lastLine(t, buf)
	assert.Equal(t, "audit", m["log_type"])
	assert.Equal(t, "sync.start", m["event_type"])
	assert.Equal(t, "system", m["actor"])
	assert.Equal(t, "HD1-0001", m["resource"])
	assert.Equal(t, "3", m["files"])
	assert.NotEmpty(t, m["timestamp"])
}

func TestLogger_Request(t *testing.T) {
	l, buf := capture(t)
	r := httptest.NewRequest("POST", "/api/v1/device/disconnect", nil)
	r.RemoteAddr = "192.168.1.20:51234"
	r.Header.Set("User-Agent", "curl/8.5.0")
	r = r.WithContext(log.ContextWithCorrelationID(r.Context(), "req-1"))

	l.Request(r, Event{Type: EventDeviceDisconnect, Action: "disconnect", Result: ResultSuccess})

	m := lastLine(t, buf)
	assert.Equal(t, "192.168.1.20", m["actor"])
	assert.Equal(t, "192.168.1.20", m["remote_addr"])
	assert.Equal(t, "curl/8.5.0", m["user_agent"])
	assert.Equal(t, "req-1", m[log.FieldCorrelationID])
}

func TestLogger_ConfigReload(t *testing.T) {
	l, buf := capture(t)
	l.ConfigReload("SIGHUP", "/etc/hidocu/config.yaml", nil)
	assert.Equal(t, "config.reload", lastLine(t, buf)["event_type"])

	l.ConfigReload("watcher", "/etc/hidocu/config.yaml", errors.New("yaml: line 3"))
	m := lastLine(t, buf)
	assert.Equal(t, "config.reload.error", m["event_type"])
	assert.Equal(t, ResultFailure, m["result"])
	assert.Equal(t, "yaml: line 3", m["error"])
}

func TestClientIP_IPv6(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(r))
	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientIP(r))
}
