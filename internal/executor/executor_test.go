package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

func TestNew_Defaults(t *testing.T) {
	e := New(domain.WorkersConfig{})

	assert.GreaterOrEqual(t, e.Workers(), minWorkers)
	assert.Equal(t, e.workers*defaultQueueFactor, e.queueCap)
	assert.Equal(t, defaultTermDeadline, e.termDeadline)
	assert.Equal(t, defaultBatchDeadline, e.batchDeadline)
}

func TestNew_HonorsConfiguredMax(t *testing.T) {
	e := New(domain.WorkersConfig{Max: 3, QueueCapacity: 9, TermDeadline: 5 * time.Millisecond, BatchDeadline: time.Second})

	assert.Equal(t, 3, e.Workers())
	assert.Equal(t, 9, e.queueCap)
	assert.Equal(t, 5*time.Millisecond, e.termDeadline)
}

func TestRun_PreservesOrder(t *testing.T) {
	e := New(domain.WorkersConfig{Max: 4, BatchDeadline: time.Second, TermDeadline: time.Second})

	requests := make([]domain.TermRequest, 20)
	for i := range requests {
		requests[i] = domain.TermRequest{Text: string(rune('a' + i))}
	}

	fn := func(ctx context.Context, req domain.TermRequest) (*domain.MappingResult, error) {
		// Stagger completion so slower workers finish out of submission order.
		time.Sleep(time.Duration(len(requests)-int(req.Text[0]-'a')) * time.Microsecond)
		return &domain.MappingResult{Term: req.Text}, nil
	}

	results := e.Run(context.Background(), requests, fn)

	require.Len(t, results, len(requests))
	for i, r := range results {
		require.Equal(t, i, r.Index)
		require.NotNil(t, r.Result)
		assert.Equal(t, requests[i].Text, r.Result.Term)
		assert.False(t, r.Cancelled)
		assert.NoError(t, r.Err)
	}

	stats := e.Stats()
	assert.EqualValues(t, len(requests), stats.Submitted)
	assert.EqualValues(t, len(requests), stats.Completed)
	assert.EqualValues(t, 0, stats.Failed)
}

func TestRun_IsolatesPerRequestFailure(t *testing.T) {
	e := New(domain.WorkersConfig{Max: 2, BatchDeadline: time.Second, TermDeadline: time.Second})

	requests := []domain.TermRequest{{Text: "ok"}, {Text: "bad"}, {Text: "ok2"}}
	wantErr := domain.NewVocabularyUnavailableError(domain.SystemSNOMED, errors.New("down"))

	fn := func(ctx context.Context, req domain.TermRequest) (*domain.MappingResult, error) {
		if req.Text == "bad" {
			return nil, wantErr
		}
		return &domain.MappingResult{Term: req.Text}, nil
	}

	results := e.Run(context.Background(), requests, fn)

	require.Len(t, results, 3)
	assert.NotNil(t, results[0].Result)
	assert.Nil(t, results[1].Result)
	assert.Error(t, results[1].Err)
	assert.Equal(t, domain.ErrKindVocabularyUnavailable, results[1].ErrKind)
	assert.NotNil(t, results[2].Result)

	stats := e.Stats()
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 2, stats.Completed)
}

func TestRun_ExternalCancellationStopsNewWorkButFinishesInFlight(t *testing.T) {
	e := New(domain.WorkersConfig{Max: 1, QueueCapacity: 1, BatchDeadline: time.Minute, TermDeadline: time.Minute})

	started := make(chan struct{})
	release := make(chan struct{})
	var completedCount int32

	requests := []domain.TermRequest{{Text: "first"}, {Text: "second"}, {Text: "third"}}
	ctx, cancel := context.WithCancel(context.Background())

	fn := func(ctx context.Context, req domain.TermRequest) (*domain.MappingResult, error) {
		if req.Text == "first" {
			close(started)
			<-release
		}
		atomic.AddInt32(&completedCount, 1)
		return &domain.MappingResult{Term: req.Text}, nil
	}

	var results []domain.ExecutorResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results = e.Run(ctx, requests, fn)
	}()

	<-started
	cancel()
	close(release)
	wg.Wait()

	require.Len(t, results, 3)
	assert.Equal(t, "first", requests[0].Text)
	assert.NotNil(t, results[0].Result, "in-flight request must finish despite cancellation")
	assert.True(t, results[2].Cancelled, "request never handed to a worker must be marked cancelled")
}

func TestRun_EmptyBatch(t *testing.T) {
	e := New(domain.WorkersConfig{})
	results := e.Run(context.Background(), nil, func(context.Context, domain.TermRequest) (*domain.MappingResult, error) {
		t.Fatal("fn must not be called for an empty batch")
		return nil, nil
	})
	assert.Empty(t, results)
}

func TestRun_TermDeadlineProducesTimeoutKind(t *testing.T) {
	e := New(domain.WorkersConfig{Max: 1, TermDeadline: time.Millisecond, BatchDeadline: time.Second})

	fn := func(ctx context.Context, req domain.TermRequest) (*domain.MappingResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	results := e.Run(context.Background(), []domain.TermRequest{{Text: "slow"}}, fn)

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, domain.ErrKindTimeout, results[0].ErrKind)
}
