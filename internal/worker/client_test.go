package worker

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlpipe/internal/catalog"
	"github.com/roach88/sqlpipe/internal/executor"
	"github.com/roach88/sqlpipe/internal/machine"
	"github.com/roach88/sqlpipe/internal/op"
	"github.com/roach88/sqlpipe/internal/pipeline"
	"github.com/roach88/sqlpipe/internal/retry"
	"github.com/roach88/sqlpipe/internal/testutil"
	"github.com/roach88/sqlpipe/internal/value"
)

const waitFor = 5 * time.Second

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	cfg := Config{
		Pipeline: pipeline.Config{
			Database: filepath.Join(t.TempDir(), "worker.db"),
			Retry:    retry.Config{MaxRetries: 3, Base: 10 * time.Millisecond},
		},
		JoinTimeout: time.Second,
	}
	opts = append([]Option{WithIDGenerator(testutil.NewSequentialIDs("op"))}, opts...)
	c := New(cfg, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c
}

// collect receives events until stop returns true or the channel closes.
func collect(t *testing.T, c *Client, stop func(Event) bool) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(waitFor)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
			if stop != nil && stop(ev) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out after %d events", len(got))
		}
	}
}

func completions(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == pipeline.KindCompleted {
			out = append(out, ev)
		}
	}
	return out
}

func countCompleted(n int) func(Event) bool {
	seen := 0
	return func(ev Event) bool {
		if ev.Kind == pipeline.KindCompleted {
			seen++
		}
		return seen == n
	}
}

func TestClient_CompletesInOrder(t *testing.T) {
	c := newClient(t)

	id1, err := c.AddUser("Ada", "ada@example.com", 36)
	require.NoError(t, err)
	id2, err := c.AddUser("Grace", "grace@example.com", 85)
	require.NoError(t, err)
	id3, err := c.GetAllUsers()
	require.NoError(t, err)

	done := completions(collect(t, c, countCompleted(3)))
	require.Len(t, done, 3)

	assert.Equal(t, []string{id1, id2, id3}, []string{done[0].OperationID, done[1].OperationID, done[2].OperationID})
	assert.Equal(t, catalog.AddUser, done[0].Operation)
	assert.Equal(t, catalog.TopicUserAdded, done[0].Topic)
	assert.Equal(t, catalog.TopicUserRetrieved, done[2].Topic)
	for _, ev := range done {
		assert.True(t, ev.Result.Success, ev.Result.Error)
	}

	rows, ok := value.AsList(done[2].Result.Data)
	require.True(t, ok)
	assert.Len(t, rows, 2)

	require.NoError(t, c.Close())
	rest := collect(t, c, nil)
	assert.Equal(t, machine.StateFinal, c.CurrentState())
	assert.False(t, c.IsConnected())
	assert.NotEmpty(t, rest)
}

func TestClient_StatusTracksWorker(t *testing.T) {
	c := newClient(t)
	collect(t, c, func(ev Event) bool { return ev.Kind == pipeline.KindConnected })

	assert.True(t, c.IsConnected())
	assert.Equal(t, machine.StateIdle, c.CurrentState())
	assert.Equal(t, 0, c.QueueSize())
	assert.Empty(t, c.CurrentOperationID())

	require.NoError(t, c.Close())
	collect(t, c, nil)
}

func TestClient_StartRejectsMissingTable(t *testing.T) {
	cfg := Config{Pipeline: pipeline.Config{
		Database: filepath.Join(t.TempDir(), "worker.db"),
		Table:    machine.FileSource(filepath.Join(t.TempDir(), "missing.cue")),
	}}
	c := New(cfg)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, op.IsInitializationError(err))

	_, err = c.Query("SELECT 1", op.Params{})
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.NoError(t, c.Close())
}

func TestClient_RejectsRequestsAfterClose(t *testing.T) {
	c := newClient(t)
	require.NoError(t, c.Close())

	_, err := c.Query("SELECT 1", op.Params{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, c.Exec(context.Background(), "SELECT 1", op.Params{}))
	collect(t, c, nil)
}

func TestClient_CloseFailsQueuedRequests(t *testing.T) {
	c := newClient(t)

	var ids []string
	for i := 0; i < 20; i++ {
		id, err := c.Query("SELECT 1", op.Params{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, c.Close())

	done := completions(collect(t, c, nil))
	seen := make(map[string]int)
	for _, ev := range done {
		seen[ev.OperationID]++
		if !ev.Result.Success {
			assert.Equal(t, pipeline.MsgPipelineStopped, ev.Result.Error)
		}
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "operation %s", id)
	}
}

func TestClient_ExecBypassesQueue(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	assertConnected := func() {
		collect(t, c, func(ev Event) bool { return ev.Kind == pipeline.KindConnected })
	}
	assertConnected()

	var params op.Params
	params.SetString("name", "Pen").SetDouble("price", 1.5).SetInt("stock", 4)

	require.True(t, c.Begin(ctx))
	require.True(t, c.Exec(ctx, "INSERT INTO products (name, price, stock) VALUES (:name, :price, :stock)", params))
	require.True(t, c.Rollback(ctx))
	assert.False(t, c.Exec(ctx, "NOT SQL", op.Params{}))

	require.True(t, c.Begin(ctx))
	require.True(t, c.Exec(ctx, "INSERT INTO products (name, price, stock) VALUES (:name, :price, :stock)", params))
	require.True(t, c.Commit(ctx))

	_, err := c.GetAllProducts()
	require.NoError(t, err)
	done := completions(collect(t, c, countCompleted(1)))
	rows, _ := value.AsList(done[0].Result.Data)
	assert.Len(t, rows, 1)

	require.NoError(t, c.Close())
	collect(t, c, nil)
}

// blockingExecutor holds every query until its context is cancelled.
type blockingExecutor struct {
	entered chan string
}

func (b *blockingExecutor) Execute(ctx context.Context, _ executor.Session, req op.Request) (op.Result, error) {
	b.entered <- req.ID
	<-ctx.Done()
	err := op.NewQueryError(req.ID, ctx.Err())
	return op.Failed(req.ID, ctx.Err().Error(), time.Now()), err
}

func (b *blockingExecutor) Command(context.Context, executor.Session, string, op.Params) error {
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestClient_ForcedTerminationHappensOnce(t *testing.T) {
	var logs syncBuffer
	exec := &blockingExecutor{entered: make(chan string, 1)}

	cfg := Config{
		Pipeline:    pipeline.Config{Database: filepath.Join(t.TempDir(), "worker.db")},
		JoinTimeout: 50 * time.Millisecond,
	}
	c := New(cfg,
		WithIDGenerator(testutil.NewSequentialIDs("op")),
		WithLogger(zerolog.New(&logs)),
		WithPipelineOptions(pipeline.WithExecutor(exec)),
	)
	require.NoError(t, c.Start(context.Background()))

	id, err := c.Query("SELECT 1", op.Params{})
	require.NoError(t, err)
	select {
	case got := <-exec.entered:
		require.Equal(t, id, got)
	case <-time.After(waitFor):
		t.Fatal("query never started")
	}

	assert.ErrorIs(t, c.Close(), ErrShutdownTimeout)
	assert.ErrorIs(t, c.Close(), ErrShutdownTimeout)

	done := completions(collect(t, c, nil))
	require.Len(t, done, 1)
	assert.Equal(t, id, done[0].OperationID)
	assert.False(t, done[0].Result.Success)

	assert.Equal(t, 1, strings.Count(logs.String(), "shutdown timeout, forcing exit"))
}

// slowExecutor reports each query as entered, then succeeds after delay.
type slowExecutor struct {
	entered chan string
	delay   time.Duration
}

func (e *slowExecutor) Execute(_ context.Context, _ executor.Session, req op.Request) (op.Result, error) {
	e.entered <- req.ID
	time.Sleep(e.delay)
	return op.Succeeded(req.ID, value.List{}, time.Now()), nil
}

func (e *slowExecutor) Command(context.Context, executor.Session, string, op.Params) error {
	return nil
}

func TestClient_ShutdownWaitsForInFlight(t *testing.T) {
	exec := &slowExecutor{entered: make(chan string, 1), delay: 100 * time.Millisecond}
	c := newClient(t, WithPipelineOptions(pipeline.WithExecutor(exec)))

	id, err := c.Query("SELECT 1", op.Params{})
	require.NoError(t, err)
	select {
	case got := <-exec.entered:
		require.Equal(t, id, got)
	case <-time.After(waitFor):
		t.Fatal("query never started")
	}

	require.NoError(t, c.Close())

	done := completions(collect(t, c, nil))
	require.Len(t, done, 1)
	assert.Equal(t, id, done[0].OperationID)
	assert.True(t, done[0].Result.Success, done[0].Result.Error)
	assert.Equal(t, machine.StateFinal, c.CurrentState())
}

func TestClient_SubmitDuringCloseCompletesExactlyOnce(t *testing.T) {
	cfg := Config{
		Pipeline:    pipeline.Config{Database: filepath.Join(t.TempDir(), "worker.db")},
		JoinTimeout: waitFor,
	}
	c := New(cfg, WithIDGenerator(testutil.NewSequentialIDs("op")))
	require.NoError(t, c.Start(context.Background()))

	events := make(chan []Event, 1)
	go func() {
		var got []Event
		for ev := range c.Events() {
			got = append(got, ev)
		}
		events <- got
	}()

	const (
		submitters = 8
		perWorker  = 25
	)
	var (
		mu       sync.Mutex
		accepted []string
		rejected []error
		wg       sync.WaitGroup
	)
	begin := make(chan struct{})
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-begin
			for range perWorker {
				id, err := c.Query("SELECT 1 AS one", op.Params{})
				mu.Lock()
				if err != nil {
					rejected = append(rejected, err)
				} else {
					accepted = append(accepted, id)
				}
				mu.Unlock()
			}
		}()
	}

	close(begin)
	time.Sleep(time.Millisecond)
	closeErr := c.Close()
	wg.Wait()

	var got []Event
	select {
	case got = <-events:
	case <-time.After(waitFor):
		t.Fatal("events channel never closed")
	}
	require.NoError(t, closeErr)

	for _, err := range rejected {
		assert.ErrorIs(t, err, ErrClosed)
	}

	seen := make(map[string]int)
	for _, ev := range completions(got) {
		seen[ev.OperationID]++
	}
	assert.Len(t, seen, len(accepted))
	for _, id := range accepted {
		assert.Equal(t, 1, seen[id], "operation %s", id)
	}
	assert.Zero(t, c.registry.Len())
}
