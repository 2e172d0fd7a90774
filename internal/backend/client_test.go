package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callcenter/dialer/internal/auth"
	"github.com/callcenter/dialer/internal/model"
)

type captured struct {
	path   string
	header http.Header
	body   map[string]any
}

func newServer(t *testing.T, status int, got *captured) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		got.path = r.URL.EscapedPath()
		got.header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(status)
		if status >= 400 {
			_, _ = w.Write([]byte("campaign closed\n"))
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(model.BackendConfig{BaseURL: srv.URL + "/", TimeoutSec: 5}, "agent-1", auth.StaticToken("tok"))
	c.HTTP = srv.Client()
	return c
}

func TestSaveCallLog(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusCreated, &got)

	entry := model.CallLogEntry{
		AttemptID:   "att-1",
		Number:      "5511",
		Direction:   model.DirectionOutbound,
		StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Disposition: model.DispositionNoAnswer,
		Source:      model.CallSourceAutodialer,
	}
	require.NoError(t, c.SaveCallLog(context.Background(), entry))

	assert.Equal(t, "/call-logs", got.path)
	assert.Equal(t, "Bearer tok", got.header.Get("Authorization"))
	assert.Equal(t, "agent-1", got.header.Get("X-Agent-Id"))
	assert.Equal(t, "no_answer", got.body["disposition"])
	assert.Equal(t, "2026-01-02T03:04:05Z", got.body["started_at"])
	assert.Equal(t, "autodialer", got.body["source"])
	assert.Equal(t, "backend", c.Name())
}

func TestSaveClassification(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusOK, &got)

	require.NoError(t, c.SaveClassification(context.Background(), model.Classification{Number: "1", Rating: 4, DurationSec: 33}))
	assert.Equal(t, "/call-ratings", got.path)
	assert.Equal(t, float64(4), got.body["rating"])
	assert.Equal(t, float64(33), got.body["duration_sec"])
}

func TestIncrementDialed(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusNoContent, &got)

	require.NoError(t, c.IncrementDialed(context.Background(), "camp/7"))
	assert.Equal(t, "/campaigns/camp%2F7/dialed", got.path)
	assert.Equal(t, "agent-1", got.body["agent_id"])

	got = captured{}
	require.NoError(t, c.IncrementDialed(context.Background(), ""))
	assert.Empty(t, got.path, "empty campaign is not sent")
}

func TestStatusError(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusConflict, &got)

	err := c.SaveCallLog(context.Background(), model.CallLogEntry{AttemptID: "a"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, "campaign closed", se.Body)
	assert.Contains(t, err.Error(), "save call log")
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(model.BackendConfig{}, "a", nil)
	assert.Error(t, c.SaveCallLog(context.Background(), model.CallLogEntry{}))
}
