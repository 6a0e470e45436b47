package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkloop/checkloop/internal/logging"
	"github.com/checkloop/checkloop/pkg/domain"
)

// fakeStream delivers scripted events. Closing the channel simulates a
// broken stream.
type fakeStream struct {
	ch chan Event
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan Event, 64)}
}

func (f *fakeStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-f.ch:
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) emit(t *testing.T, typ string, props any) {
	t.Helper()
	raw, err := json.Marshal(props)
	require.NoError(t, err)
	f.ch <- Event{Type: typ, Properties: raw}
}

func (f *fakeStream) fail() { close(f.ch) }

type fakeAPI struct {
	mu             sync.Mutex
	streams        []*fakeStream
	subscribeCalls int
	onPrompt       func(sessionID, text string)
	prompts        [][2]string
	approvals      [][2]string
	approvalErr    error
	providers      []Provider
	sessionSeq     int
}

func (f *fakeAPI) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionSeq++
	return "sess-" + string(rune('0'+f.sessionSeq)), nil
}

func (f *fakeAPI) SendPrompt(ctx context.Context, sessionID, text string) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, [2]string{sessionID, text})
	hook := f.onPrompt
	f.mu.Unlock()
	if hook != nil {
		hook(sessionID, text)
	}
	return nil
}

func (f *fakeAPI) RespondPermission(ctx context.Context, sessionID, permissionID, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, [2]string{permissionID, response})
	return f.approvalErr
}

func (f *fakeAPI) ListProviders(ctx context.Context) ([]Provider, error) {
	return f.providers, nil
}

func (f *fakeAPI) Subscribe(ctx context.Context) (EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	if len(f.streams) == 0 {
		return nil, errors.New("engine unreachable")
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *fakeAPI) Close() error { return nil }

func (f *fakeAPI) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeAPI) setOnPrompt(hook func(sessionID, text string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPrompt = hook
}

func readyService(t *testing.T, api *fakeAPI, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithReconnectBackoff(5 * time.Millisecond)}, opts...)
	svc := NewService(logging.NewNop(), api, opts...)
	require.NoError(t, svc.Initialize(context.Background(), Options{}))
	t.Cleanup(svc.Dispose)
	return svc
}

func TestRunSessionReconstructsMessage(t *testing.T) {
	stream := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{stream}}
	api.setOnPrompt(func(sessionID, text string) {
		stream.emit(t, EventMessageUpdated, map[string]string{
			"session_id": sessionID, "message_id": "m1", "role": "assistant",
		})
		stream.emit(t, EventMessagePartUpdated, map[string]any{
			"session_id": sessionID, "message_id": "m1",
			"part": map[string]string{"type": "text", "text": "Hello "},
		})
		// Stale fragment for a superseded message id must be dropped.
		stream.emit(t, EventMessagePartUpdated, map[string]any{
			"session_id": sessionID, "message_id": "m0",
			"part": map[string]string{"type": "text", "text": "IGNORED"},
		})
		stream.emit(t, EventMessagePartUpdated, map[string]any{
			"session_id": sessionID, "message_id": "m1",
			"part": map[string]string{"type": "text", "text": "World!"},
		})
		stream.emit(t, EventMessagePartUpdated, map[string]any{
			"session_id": sessionID, "message_id": "m1",
			"part": map[string]string{"type": "tool", "tool": "bash"},
		})
		stream.emit(t, EventSessionIdle, map[string]string{"session_id": sessionID})
	})

	svc := readyService(t, api)
	sess, err := svc.RunSession(context.Background(), "write a greeting", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", sess.LastMessage)
	assert.Equal(t, 1, api.promptCount())
}

func TestSendFollowUpResetsBuffer(t *testing.T) {
	stream := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{stream}}
	emitReply := func(id, text string) func(string, string) {
		return func(sessionID, _ string) {
			stream.emit(t, EventMessageUpdated, map[string]string{
				"session_id": sessionID, "message_id": id, "role": "assistant",
			})
			stream.emit(t, EventMessagePartUpdated, map[string]any{
				"session_id": sessionID, "message_id": id,
				"part": map[string]string{"type": "text", "text": text},
			})
			stream.emit(t, EventSessionIdle, map[string]string{"session_id": sessionID})
		}
	}

	api.setOnPrompt(emitReply("m1", "first answer"))
	svc := readyService(t, api)
	sess, err := svc.RunSession(context.Background(), "q1", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "first answer", sess.LastMessage)

	api.setOnPrompt(emitReply("m2", "second answer"))
	sess, err = svc.SendFollowUp(context.Background(), sess.ID, "try again", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second answer", sess.LastMessage)
}

func TestSendFollowUpUnknownSession(t *testing.T) {
	api := &fakeAPI{streams: []*fakeStream{newFakeStream()}}
	svc := readyService(t, api)

	_, err := svc.SendFollowUp(context.Background(), "no-such", "msg", time.Second)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAtMostOnePendingWaitPerSession(t *testing.T) {
	stream := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{stream}}
	svc := readyService(t, api)

	type result struct {
		sess domain.Session
		err  error
	}
	first := make(chan result, 1)
	go func() {
		sess, err := svc.RunSession(context.Background(), "slow", 5*time.Second)
		first <- result{sess, err}
	}()

	require.Eventually(t, func() bool { return api.promptCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := svc.SendFollowUp(context.Background(), "sess-1", "second wait", time.Second)
	assert.ErrorIs(t, err, domain.ErrWaitInProgress)

	stream.emit(t, EventSessionIdle, map[string]string{"session_id": "sess-1"})
	res := <-first
	assert.NoError(t, res.err)
}

func TestRunSessionTimeout(t *testing.T) {
	api := &fakeAPI{streams: []*fakeStream{newFakeStream()}}
	svc := readyService(t, api)

	_, err := svc.RunSession(context.Background(), "never answered", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, domain.IsTimeout(err))
	assert.NotErrorIs(t, err, domain.ErrAborted)
}

func TestRunSessionCancellation(t *testing.T) {
	api := &fakeAPI{streams: []*fakeStream{newFakeStream()}}
	svc := readyService(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := svc.RunSession(ctx, "aborted mid-wait", 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrAborted)
	assert.False(t, domain.IsTimeout(err))
}

func TestRunSessionCancelledAtDeadline(t *testing.T) {
	api := &fakeAPI{streams: []*fakeStream{newFakeStream()}}
	svc := readyService(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With the context already cancelled and an immediate deadline, both
	// wake-ups are ready at once; cancellation must win every time.
	for range 25 {
		_, err := svc.RunSession(ctx, "cancelled at the deadline", time.Nanosecond)
		require.ErrorIs(t, err, domain.ErrAborted)
		require.False(t, domain.IsTimeout(err))
	}
}

func TestDisposeRejectsPendingAndIsIdempotent(t *testing.T) {
	api := &fakeAPI{streams: []*fakeStream{newFakeStream()}}
	svc := readyService(t, api)

	errs := make(chan error, 1)
	go func() {
		_, err := svc.RunSession(context.Background(), "interrupted", 5*time.Second)
		errs <- err
	}()
	require.Eventually(t, func() bool { return api.promptCount() == 1 }, time.Second, 5*time.Millisecond)

	svc.Dispose()
	assert.ErrorIs(t, <-errs, domain.ErrDisposed)

	svc.Dispose()
	_, err := svc.RunSession(context.Background(), "after dispose", time.Second)
	assert.ErrorIs(t, err, domain.ErrDisposed)
}

func TestEventStreamReconnects(t *testing.T) {
	broken := newFakeStream()
	replacement := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{broken, replacement}}
	api.setOnPrompt(func(sessionID, _ string) {
		broken.fail()
		replacement.emit(t, EventSessionIdle, map[string]string{"session_id": sessionID})
	})

	svc := readyService(t, api)
	_, err := svc.RunSession(context.Background(), "survives an outage", 2*time.Second)
	assert.NoError(t, err)
}

func TestEventStreamDisconnectRejectsPending(t *testing.T) {
	stream := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{stream}}
	api.setOnPrompt(func(string, string) {
		// No replacement streams: every resubscribe attempt fails.
		stream.fail()
	})

	svc := readyService(t, api)
	_, err := svc.RunSession(context.Background(), "doomed", 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrEventLoopDisconnected)
	assert.Equal(t, 4, api.subscribeCalls)
}

func TestPermissionAutoApproval(t *testing.T) {
	stream := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{stream}}
	api.approvalErr = errors.New("approval endpoint down")
	api.setOnPrompt(func(sessionID, _ string) {
		stream.emit(t, EventPermissionAsked, map[string]string{
			"id": "perm-1", "session_id": sessionID,
		})
		stream.emit(t, EventSessionIdle, map[string]string{"session_id": sessionID})
	})

	svc := readyService(t, api)
	_, err := svc.RunSession(context.Background(), "needs permission", 2*time.Second)
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.approvals, 1)
	assert.Equal(t, [2]string{"perm-1", "always"}, api.approvals[0])
}

func TestSessionErrorStatusRejectsWait(t *testing.T) {
	stream := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{stream}}
	api.setOnPrompt(func(sessionID, _ string) {
		stream.emit(t, EventSessionStatus, map[string]string{
			"session_id": sessionID, "status": "error", "error": "provider quota exceeded",
		})
	})

	svc := readyService(t, api)
	_, err := svc.RunSession(context.Background(), "fails upstream", 2*time.Second)
	assert.ErrorContains(t, err, "provider quota exceeded")
}

func TestLastMessageTruncation(t *testing.T) {
	stream := newFakeStream()
	api := &fakeAPI{streams: []*fakeStream{stream}}
	huge := strings.Repeat("x", lastMessageCap+100)
	api.setOnPrompt(func(sessionID, _ string) {
		stream.emit(t, EventMessageUpdated, map[string]string{
			"session_id": sessionID, "message_id": "m1", "role": "assistant",
		})
		stream.emit(t, EventMessagePartUpdated, map[string]any{
			"session_id": sessionID, "message_id": "m1",
			"part": map[string]string{"type": "text", "text": huge},
		})
		stream.emit(t, EventSessionIdle, map[string]string{"session_id": sessionID})
	})

	svc := readyService(t, api)
	sess, err := svc.RunSession(context.Background(), "long answer", 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, sess.LastMessage, lastMessageCap+len(truncationMarker))
	assert.True(t, strings.HasSuffix(sess.LastMessage, truncationMarker))
}

func TestListModels(t *testing.T) {
	t.Run("Flattens Providers", func(t *testing.T) {
		api := &fakeAPI{
			streams: []*fakeStream{newFakeStream()},
			providers: []Provider{
				{ID: "anthropic", Models: []Model{{ID: "a1", Name: "A One"}}},
				{ID: "openai", Models: []Model{{ID: "o1", Name: "O One"}, {ID: "o2", Name: "O Two"}}},
			},
		}
		svc := readyService(t, api)

		models, err := svc.ListModels(context.Background())
		require.NoError(t, err)
		require.Len(t, models, 3)
		assert.Equal(t, domain.ModelInfo{ID: "a1", Name: "A One", Provider: "anthropic"}, models[0])
		assert.Equal(t, "openai", models[2].Provider)
	})

	t.Run("Empty Catalog Is An Error", func(t *testing.T) {
		api := &fakeAPI{streams: []*fakeStream{newFakeStream()}}
		svc := readyService(t, api)

		_, err := svc.ListModels(context.Background())
		assert.ErrorContains(t, err, "no models")
	})
}

// gatedAPI holds every Subscribe open until the test feeds gate, signalling
// entry on entered.
type gatedAPI struct {
	fakeAPI
	entered chan struct{}
	gate    chan error
}

func (g *gatedAPI) Subscribe(ctx context.Context) (EventStream, error) {
	g.entered <- struct{}{}
	if err := <-g.gate; err != nil {
		return nil, err
	}
	return newFakeStream(), nil
}

func TestInitialize(t *testing.T) {
	t.Run("Requires Initialization", func(t *testing.T) {
		svc := NewService(logging.NewNop(), &fakeAPI{})
		_, err := svc.RunSession(context.Background(), "too early", time.Second)
		assert.ErrorIs(t, err, domain.ErrNotInitialized)
	})

	t.Run("Failure Resets For Retry", func(t *testing.T) {
		api := &fakeAPI{} // no streams: first subscribe fails
		svc := NewService(logging.NewNop(), api)
		require.Error(t, svc.Initialize(context.Background(), Options{}))

		api.mu.Lock()
		api.streams = []*fakeStream{newFakeStream()}
		api.mu.Unlock()
		assert.NoError(t, svc.Initialize(context.Background(), Options{}))
		svc.Dispose()
	})

	t.Run("Waiter Joined Mid-Attempt Gets That Attempt's Outcome", func(t *testing.T) {
		api := &gatedAPI{
			entered: make(chan struct{}, 4),
			gate:    make(chan error),
		}
		svc := NewService(logging.NewNop(), api)
		t.Cleanup(svc.Dispose)

		first := make(chan error, 1)
		go func() { first <- svc.Initialize(context.Background(), Options{}) }()
		<-api.entered

		second := make(chan error, 1)
		go func() { second <- svc.Initialize(context.Background(), Options{}) }()
		time.Sleep(50 * time.Millisecond)

		// Feed failures until both callers have returned, so a waiter that
		// joined late and started its own attempt cannot hang the test.
		errOffline := errors.New("engine offline")
		stop := make(chan struct{})
		feederDone := make(chan struct{})
		go func() {
			defer close(feederDone)
			for {
				select {
				case api.gate <- errOffline:
				case <-stop:
					return
				}
			}
		}()
		assert.ErrorContains(t, <-first, "engine offline")
		assert.ErrorContains(t, <-second, "engine offline")
		close(stop)
		<-feederDone

		// A fresh attempt after the failure must still succeed.
		retry := make(chan error, 1)
		go func() { retry <- svc.Initialize(context.Background(), Options{}) }()
		<-api.entered
		api.gate <- nil
		assert.NoError(t, <-retry)
	})

	t.Run("Concurrent Callers Share One Attempt", func(t *testing.T) {
		api := &fakeAPI{streams: []*fakeStream{newFakeStream()}}
		svc := NewService(logging.NewNop(), api)
		t.Cleanup(svc.Dispose)

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, svc.Initialize(context.Background(), Options{}))
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, api.subscribeCalls)
	})
}
