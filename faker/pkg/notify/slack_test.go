package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/tsfaker/faker/pkg/engine"
	fakertesting "github.com/malbeclabs/tsfaker/utils/pkg/testing"
)

func testSummary() *engine.Summary {
	return &engine.Summary{
		RunID:   "run-1",
		Status:  engine.StatusAborted,
		Rows:    3,
		Written: 3,
		Skipped: 1,
		Failed:  1,
		Elapsed: 1500 * time.Millisecond,
		Err:     errors.New("write M4: boom"),
		Outcomes: []engine.Outcome{
			{EntityID: "M1", Kind: engine.KindWritten, Rows: 3},
			{EntityID: "M4", Kind: engine.KindFailed, Err: errors.New("boom")},
			{EntityID: "M5", Kind: engine.KindSkipped, Reason: engine.ReasonAborted},
		},
	}
}

func TestFaker_Notify_FormatSummary(t *testing.T) {
	t.Parallel()

	text := FormatSummary("tb_ammeter", testSummary())
	require.Contains(t, text, "*tb_ammeter* `run-1` aborted in 1.5s")
	require.Contains(t, text, "rows=3 written=3 previewed=0 skipped=1 failed=1")
	require.Contains(t, text, "error: write M4: boom")
	require.Contains(t, text, "• `M4`: boom")

	dry := &engine.Summary{RunID: "r", Status: engine.StatusCompleted, DryRun: true, LimitReached: true}
	text = FormatSummary("t", dry)
	require.Contains(t, text, "[DRY RUN]")
	require.Contains(t, text, "(row limit reached)")
	require.NotContains(t, text, "Failures")
}

func TestFaker_Notify_FormatSummary_TruncatesFailures(t *testing.T) {
	t.Parallel()

	s := &engine.Summary{RunID: "r", Status: engine.StatusCompleted}
	for i := range maxListedFailures + 3 {
		s.Outcomes = append(s.Outcomes, engine.Outcome{EntityID: fmt.Sprintf("M%d", i), Kind: engine.KindFailed, Err: errors.New("x")})
	}
	require.Contains(t, FormatSummary("t", s), "... and 3 more")
}

func TestFaker_Notify_SlackPostsWebhook(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	n, err := NewSlack(SlackConfig{Logger: fakertesting.NewLogger(), WebhookURL: srv.URL, Title: "tb_ammeter"})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), testSummary()))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, body["text"], "`run-1` aborted")
	blocks, ok := body["blocks"].([]any)
	require.True(t, ok)
	require.Len(t, blocks, 2)
}

func TestFaker_Notify_SlackErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	n, err := NewSlack(SlackConfig{Logger: fakertesting.NewLogger(), WebhookURL: srv.URL})
	require.NoError(t, err)
	require.Error(t, n.Notify(context.Background(), testSummary()))
}

func TestFaker_Notify_ConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := NewSlack(SlackConfig{})
	require.ErrorContains(t, err, "logger is required")
	_, err = NewSlack(SlackConfig{Logger: fakertesting.NewLogger()})
	require.ErrorContains(t, err, "webhook url is required")
}
