package analytics

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrersoftware/copilot-plugin-system/internal/storage/memory"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

func TestThreeTurnsEmitInsight(t *testing.T) {
	var logs bytes.Buffer
	data := memory.NewDataStore()
	p := New()
	require.NoError(t, p.Initialize(context.Background(), &plugin.Host{
		Config: plugin.Metadata{"insight_interval": plugin.Int(3)},
		Data:   data,
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	}))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		req, err := p.BeforeRequest(ctx, plugin.NewRequest("what does ls do?"))
		require.NoError(t, err)
		assert.Equal(t, float64(i), req.Metadata.GetNumber(KeyTurn, 0))
		assert.Positive(t, req.Metadata.GetNumber(KeyTokens, 0))

		resp, err := p.AfterResponse(ctx, plugin.NewResponse("it lists files", 200*time.Millisecond))
		require.NoError(t, err)

		_, hasInsight := resp.Metadata[KeyInsight]
		assert.Equal(t, i == 3, hasInsight, "response %d", i)
	}

	stats := p.Stats()
	assert.Equal(t, 3, stats.Turns)
	assert.Equal(t, 3, stats.Responses)
	assert.Equal(t, 1, stats.Insights)
	assert.Equal(t, 1.0, stats.SuccessRate())
	assert.Equal(t, 200*time.Millisecond, stats.AverageDuration())

	assert.Equal(t, 1, strings.Count(logs.String(), "conversation insight"))

	n, ok := data.Get(KeyInsights)
	require.True(t, ok)
	assert.True(t, n.Equal(plugin.Int(1)))

	last, ok := data.Get(KeyLastInsight)
	require.True(t, ok)
	fields, ok := last.Fields()
	require.True(t, ok)
	assert.Equal(t, float64(3), fields.GetNumber("turns", 0))
	assert.Equal(t, float64(200), fields.GetNumber("avg_duration_ms", 0))
}

func TestInsightInterval(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize(context.Background(), &plugin.Host{
		Config: plugin.Metadata{"insight_interval": plugin.Int(2)},
	}))

	var insights int
	for i := 0; i < 7; i++ {
		resp, err := p.AfterResponse(context.Background(), plugin.NewResponse("ok", time.Millisecond))
		require.NoError(t, err)
		if _, ok := resp.Metadata[KeyInsight]; ok {
			insights++
		}
	}
	assert.Equal(t, 3, insights)
	assert.Equal(t, 3, p.Stats().Insights)
}

func TestDefaults(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize(context.Background(), &plugin.Host{
		Config: plugin.Metadata{"insight_interval": plugin.Int(0)},
	}))
	assert.Equal(t, DefaultInsightInterval, p.interval)

	// Without a host the plugin still counts.
	q := New()
	require.NoError(t, q.Initialize(context.Background(), nil))
	_, err := q.BeforeRequest(context.Background(), plugin.NewRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, q.Stats().Turns)
}

func TestFailuresLowerSuccessRate(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize(context.Background(), nil))

	ok := plugin.NewResponse("fine", time.Second)
	failed := plugin.NewResponse("", 3*time.Second)
	failed.Success = false
	failed.Error = "backend timeout"

	for _, r := range []plugin.ResponseContext{ok, failed} {
		_, err := p.AfterResponse(context.Background(), r)
		require.NoError(t, err)
	}
	s := p.Stats()
	assert.Equal(t, 0.5, s.SuccessRate())
	assert.Equal(t, 2*time.Second, s.AverageDuration())
}

func TestConcurrentTurns(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize(context.Background(), nil))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.BeforeRequest(context.Background(), plugin.NewRequest("hello"))
			p.AfterResponse(context.Background(), plugin.NewResponse("world", time.Millisecond))
		}()
	}
	wg.Wait()

	s := p.Stats()
	assert.Equal(t, 50, s.Turns)
	assert.Equal(t, 50, s.Responses)
	assert.Equal(t, 10, s.Insights)
}

func TestInputNotModified(t *testing.T) {
	p := New()
	require.NoError(t, p.Initialize(context.Background(), nil))

	req := plugin.NewRequest("p")
	_, err := p.BeforeRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, req.Metadata)
}
