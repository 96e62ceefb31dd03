package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/dispatch"
)

type fakeSource struct {
	due     []string
	sending []string
	err     error
	gotNow  time.Time
}

func (f *fakeSource) DueCampaignIDs(_ context.Context, now time.Time, _ int) ([]string, error) {
	f.gotNow = now
	return f.due, f.err
}

func (f *fakeSource) SendingCampaignIDs(context.Context, int) ([]string, error) {
	return f.sending, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, id string) (*dispatch.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return &dispatch.Stats{Total: 1, Sent: 1}, nil
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestTickDispatchesDueThenSending(t *testing.T) {
	src := &fakeSource{due: []string{"q1", "q2"}, sending: []string{"s1", "q2"}}
	d := &fakeDispatcher{errs: map[string]error{
		"q2": dispatch.ErrDispatchInProgress,
		"s1": errors.New("database unreachable"),
	}}
	tr := New(src, d, time.Minute)
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	res, err := tr.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"q1", "q2", "s1"}, d.calls, "each campaign is dispatched once, due first")
	assert.Equal(t, TickResult{Due: 2, Sending: 2, Dispatched: 1, Skipped: 1, Failed: 1}, res)
	assert.Equal(t, fixed, src.gotNow)
}

func TestTickSkipsCampaignsThatLeftDispatchableStates(t *testing.T) {
	src := &fakeSource{sending: []string{"s1"}}
	d := &fakeDispatcher{errs: map[string]error{"s1": dispatch.ErrInvalidStatus}}

	res, err := New(src, d, time.Minute).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)
}

func TestTickListError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	d := &fakeDispatcher{}

	_, err := New(src, d, time.Minute).Tick(context.Background())
	require.Error(t, err)
	assert.Empty(t, d.calls)
}

func TestTickStopsOnCanceledContext(t *testing.T) {
	src := &fakeSource{due: []string{"q1", "q2"}}
	d := &fakeDispatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(src, d, time.Minute).Tick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.calls)
}

func TestTriggerStartStop(t *testing.T) {
	src := &fakeSource{due: []string{"q1"}}
	d := &fakeDispatcher{}
	tr := New(src, d, 10*time.Millisecond)

	require.NoError(t, tr.Start())
	assert.Error(t, tr.Start(), "double start is refused")

	assert.Eventually(t, func() bool { return d.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	tr.Stop()
	n := d.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, d.callCount(), "no ticks after Stop")

	tr.Stop()
}
