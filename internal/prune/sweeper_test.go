package prune

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loquahq/loqua/internal/config"
)

type countingEvictor struct {
	mu      sync.Mutex
	maxIdle time.Duration
	calls   int
}

func (e *countingEvictor) EvictIdle(maxIdle time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxIdle = maxIdle
	e.calls++
	return 0
}

func TestNewSweeperRejectsBadDurations(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewSweeper(log, config.PruneConfig{Interval: "banana", MaxIdle: "1h"}, &countingEvictor{})
	assert.Error(t, err)
	_, err = NewSweeper(log, config.PruneConfig{Interval: "1m", MaxIdle: "banana"}, &countingEvictor{})
	assert.Error(t, err)
}

func TestSweepPassesMaxIdle(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	evictor := &countingEvictor{}
	s, err := NewSweeper(log, config.PruneConfig{Interval: "10m", MaxIdle: "24h"}, evictor)
	require.NoError(t, err)

	s.sweep()

	evictor.mu.Lock()
	defer evictor.mu.Unlock()
	assert.Equal(t, 1, evictor.calls)
	assert.Equal(t, 24*time.Hour, evictor.maxIdle)
}
