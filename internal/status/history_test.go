package status

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/store"
)

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dialer.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveCallLog(ctx, model.CallLogEntry{
		AttemptID: "a1", Number: "+5511999990000", Direction: "outbound", StartedAt: at, EndedAt: at.Add(75 * time.Second),
		DurationSec: 75, Disposition: model.DispositionAnswered, Source: model.CallSourceAutodialer,
	}))
	require.NoError(t, db.SaveCallLog(ctx, model.CallLogEntry{
		AttemptID: "a2", Number: "+5511988887777", Direction: "outbound", StartedAt: at, EndedAt: at.Add(2 * time.Minute),
		Disposition: model.DispositionFailed, FailureCause: "BUSY", FailureStatusCode: 486, Source: model.CallSourceAutodialer,
	}))
	require.NoError(t, db.SaveClassification(ctx, model.Classification{
		Number: "+5511999990000", DurationSec: 75, Rating: 4, Reason: "interested", CallStartedAt: at, SubmittedAt: at.Add(2 * time.Minute),
	}))
	return path
}

func TestRunHistory_Table(t *testing.T) {
	path := seedStore(t)

	var out bytes.Buffer
	require.NoError(t, RunHistory(context.Background(), path, 10, false, &out))
	s := out.String()
	assert.Contains(t, s, "+5511988887777")
	assert.Contains(t, s, "BUSY")
	assert.Contains(t, s, "01:15")
	assert.Contains(t, s, "4/5  interested")
	assert.Contains(t, s, "answered=1")
	assert.Contains(t, s, "failed=1")
}

func TestRunHistory_JSON(t *testing.T) {
	path := seedStore(t)

	var out bytes.Buffer
	require.NoError(t, RunHistory(context.Background(), path, 1, true, &out))

	var h History
	require.NoError(t, json.Unmarshal(out.Bytes(), &h))
	require.Len(t, h.Calls, 1)
	assert.Equal(t, "a2", h.Calls[0].AttemptID)
	require.Len(t, h.Ratings, 1)
	assert.Equal(t, 2, h.Dispositions[model.DispositionAnswered]+h.Dispositions[model.DispositionFailed])
}

func TestRunHistory_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, RunHistory(context.Background(), filepath.Join(t.TempDir(), "dialer.db"), 0, false, &out))
	assert.Contains(t, out.String(), "No calls recorded.")
}
