package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logagg/internal/api"
	"github.com/roach88/logagg/internal/app"
	"github.com/roach88/logagg/internal/config"
	"github.com/roach88/logagg/internal/event"
	"github.com/roach88/logagg/internal/store"
	"github.com/roach88/logagg/internal/testutil"
)

func newDemoServer(t *testing.T) string {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "demo.db"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Log.Detailed = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := app.New(cfg, st, app.WithLogger(logger))
	require.NoError(t, a.Start(context.Background()))

	srv := httptest.NewServer(api.NewRouter(api.NewHandlers(a, logger)))
	t.Cleanup(func() {
		srv.Close()
		a.Close()
		st.Close()
	})
	return srv.URL
}

func runDemoWith(t *testing.T, format string, mutate func(*DemoOptions)) (string, error) {
	t.Helper()
	opts := &DemoOptions{
		RootOptions:  &RootOptions{Format: format},
		URL:          "http://127.0.0.1:1",
		Unique:       40,
		Duplicates:   10,
		BatchSize:    7,
		Wait:         10 * time.Second,
		PollInterval: 5 * time.Millisecond,
		IDs:          testutil.NewSequentialIDGenerator("demo"),
	}
	if mutate != nil {
		mutate(opts)
	}
	buf := &bytes.Buffer{}
	cmd := NewDemoCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())
	err := runDemo(opts, cmd)
	return buf.String(), err
}

func TestDemo_Text(t *testing.T) {
	url := newDemoServer(t)

	out, err := runDemoWith(t, "text", func(o *DemoOptions) { o.URL = url })
	require.NoError(t, err)
	assert.Contains(t, out, "[3/5] same event three times")
	assert.Contains(t, out, "sent 3: +3 received, +1 unique, +2 duplicates")
	assert.Contains(t, out, "sent 50: +50 received, +40 unique, +10 duplicates")
	assert.Contains(t, out, "payment.completed: 3")
	assert.Contains(t, out, "✓ consistent")
	assert.NotContains(t, out, "MISMATCH")
}

func TestDemo_JSON(t *testing.T) {
	url := newDemoServer(t)

	out, err := runDemoWith(t, "json", func(o *DemoOptions) { o.URL = url })
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   DemoResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "http", resp.Data.Transport)
	require.Len(t, resp.Data.Steps, 5)
	for _, s := range resp.Data.Steps {
		assert.True(t, s.Pass, s.Name)
	}
	assert.True(t, resp.Data.Consistent)
	assert.Equal(t, int64(1+10+3+12+50), resp.Data.Final.Received)
	assert.Equal(t, int64(1+10+1+12+40), resp.Data.Final.UniqueProcessed)
	assert.Equal(t, int64(8), resp.Data.Final.Topics)
	assert.Equal(t, 40, resp.Data.TopicTotal["demo.highvolume"])
	assert.Len(t, resp.Data.Sample, 5)
}

func TestDemo_StepMismatch(t *testing.T) {
	url := newDemoServer(t)

	// Reusing the first id everywhere turns later steps into duplicates.
	out, err := runDemoWith(t, "text", func(o *DemoOptions) {
		o.URL = url
		o.IDs = event.NewFixedGenerator("same")
	})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "did not match")
	assert.Contains(t, out, "MISMATCH")
}

func TestDemo_Unreachable(t *testing.T) {
	_, err := runDemoWith(t, "text", nil)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not reachable")
}

func TestDemo_FlagValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DemoOptions)
		want   string
	}{
		{"duplicates above unique", func(o *DemoOptions) { o.Duplicates = 41 }, "--duplicates"},
		{"zero batch", func(o *DemoOptions) { o.BatchSize = 0 }, "--batch-size"},
		{"kafka topic without brokers", func(o *DemoOptions) { o.KafkaTopic = "events" }, "set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runDemoWith(t, "text", tt.mutate)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestChunk(t *testing.T) {
	evs := make([]event.Event, 7)
	parts := chunk(evs, 3)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 3)
	assert.Len(t, parts[1], 3)
	assert.Len(t, parts[2], 1)

	assert.Len(t, chunk(evs, 7), 1)
	assert.Len(t, chunk(evs, 10), 1)
}
