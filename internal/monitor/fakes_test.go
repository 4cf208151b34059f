package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/casino-ledger/internal/connection"
)

type fakeSubscription struct {
	mu     sync.Mutex
	errCh  chan error
	closed bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.errCh)
	}
}

func (s *fakeSubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.errCh <- err
	}
}

// fakeSource is an in-memory node: pushed logs go through the sink handed to
// SubscribeFilterLogs, polled logs are served from logs by block range
type fakeSource struct {
	mu           sync.Mutex
	subscribeErr error
	blockErr     error
	head         uint64
	logs         []types.Log
	subs         []*fakeSubscription
	queries      []ethereum.FilterQuery

	sinks chan chan<- types.Log
}

func newFakeSource() *fakeSource {
	return &fakeSource{sinks: make(chan chan<- types.Log, 8)}
}

func (f *fakeSource) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := newFakeSubscription()
	f.subs = append(f.subs, sub)
	f.queries = append(f.queries, q)
	f.sinks <- ch
	return sub, nil
}

func (f *fakeSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= q.FromBlock.Uint64() && log.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.blockErr
}

func (f *fakeSource) Close() {}

func (f *fakeSource) setChain(head uint64, logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
	f.logs = append(f.logs, logs...)
}

func (f *fakeSource) lastSubscription() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
	source   *fakeSource
}

func (d *fakeDialer) Dial(ctx context.Context) (connection.LogSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("connection refused")
	}
	return d.source, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitSink(t *testing.T, src *fakeSource) chan<- types.Log {
	t.Helper()
	select {
	case sink := <-src.sinks:
		return sink
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not subscribe")
		return nil
	}
}

func eventually(t *testing.T, condition func() bool, msg string) {
	t.Helper()
	require.Eventually(t, condition, 2*time.Second, 5*time.Millisecond, msg)
}
