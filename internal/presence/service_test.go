package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/pubsub"
)

// mockSink records every published frame.
type mockSink struct {
	mu     sync.Mutex
	frames []events.StatusPayload
	err    error
}

func (m *mockSink) Publish(_ context.Context, _ string, frame []byte) error {
	if m.err != nil {
		return m.err
	}
	env, err := events.Decode(frame)
	if err != nil {
		return err
	}
	var p events.StatusPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, p)
	return nil
}

func (m *mockSink) statuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.frames))
	for i, f := range m.frames {
		out[i] = f.UserID + ":" + f.Status
	}
	return out
}

type nopEndpoint struct{}

func (nopEndpoint) Deliver([]byte) error { return nil }

func newTestService(t *testing.T, opts ...Option) (*Service, *hub.Registry, *mockSink) {
	t.Helper()
	sink := &mockSink{}
	reg := hub.New()
	svc := NewService(reg, sink, opts...)
	reg.Observe(svc.OccupancyChanged)
	t.Cleanup(svc.Shutdown)
	return svc, reg, sink
}

func TestPresence_MultiDevice(t *testing.T) {
	svc, reg, sink := newTestService(t)
	svc.Remember(domain.PublicProfile{ID: "alice", Username: "alice_w"})

	reg.Register("alice", "phone", nopEndpoint{})
	reg.Register("alice", "laptop", nopEndpoint{})
	assert.Equal(t, []string{"alice:online"}, sink.statuses())

	reg.Unregister("phone")
	assert.Equal(t, StatusOnline, svc.GetPresence("alice").Status)
	assert.Equal(t, []string{"alice:online"}, sink.statuses(), "one device left, still online")

	reg.Unregister("laptop")
	assert.Equal(t, []string{"alice:online", "alice:offline"}, sink.statuses())
	assert.Equal(t, Presence{UserID: "alice", Status: StatusOffline}, svc.GetPresence("alice"))

	sink.mu.Lock()
	assert.Equal(t, "alice_w", sink.frames[1].Username)
	sink.mu.Unlock()

	svc.mu.Lock()
	assert.NotContains(t, svc.names, "alice", "names are dropped once offline is published")
	svc.mu.Unlock()
}

func TestPresence_ReconcileIsIdempotent(t *testing.T) {
	svc, reg, sink := newTestService(t)

	reg.Register("bob", "c1", nopEndpoint{})
	svc.OccupancyChanged("bob")
	svc.OccupancyChanged("bob")
	svc.OccupancyChanged("nobody")

	assert.Equal(t, []string{"bob:online"}, sink.statuses())
	assert.Equal(t, []string{"bob"}, svc.GetOnlineUsers())
}

func TestPresence_ConcurrentChurnPublishesAlternatingTransitions(t *testing.T) {
	_, reg, sink := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			reg.Register("carol", conn, nopEndpoint{})
			reg.Unregister(conn)
		}(i)
	}
	wg.Wait()

	statuses := sink.statuses()
	require.NotEmpty(t, statuses)
	for i, s := range statuses {
		want := "carol:online"
		if i%2 == 1 {
			want = "carol:offline"
		}
		assert.Equal(t, want, s, "transition %d", i)
	}
	assert.Equal(t, "carol:offline", statuses[len(statuses)-1])
}

func TestPresence_OfflineDebounce(t *testing.T) {
	_, reg, sink := newTestService(t, WithOfflineDebounce(50*time.Millisecond))

	reg.Register("dave", "c1", nopEndpoint{})
	reg.Unregister("c1")
	reg.Register("dave", "c2", nopEndpoint{})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"dave:online"}, sink.statuses(), "reconnect inside the window does not flap")

	reg.Unregister("c2")
	assert.Eventually(t, func() bool {
		return len(sink.statuses()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"dave:online", "dave:offline"}, sink.statuses())
}

func TestPresence_TransitionHookAndFailures(t *testing.T) {
	var hooks []Status
	svc, reg, sink := newTestService(t, WithTransitionHook(func(s Status) { hooks = append(hooks, s) }))

	reg.Register("erin", "c1", nopEndpoint{})
	reg.Unregister("c1")
	assert.Equal(t, []Status{StatusOnline, StatusOffline}, hooks)

	sink.err = errors.New("bus closed")
	reg.Register("erin", "c2", nopEndpoint{})
	assert.Len(t, hooks, 2, "failed publishes are not counted")
	assert.Equal(t, StatusOnline, svc.GetPresence("erin").Status)
}

func TestPresence_Announce(t *testing.T) {
	svc, reg, sink := newTestService(t)

	svc.Announce(context.Background(), "frank")
	assert.Empty(t, sink.statuses(), "offline users cannot announce")

	reg.Register("frank", "c1", nopEndpoint{})
	svc.Announce(context.Background(), "frank")
	assert.Equal(t, []string{"frank:online", "frank:online"}, sink.statuses())
}

// recordingEmitter captures deliveries instead of fanning them out.
type recordingEmitter struct {
	mu         sync.Mutex
	deliveries []pubsub.Delivery
}

func (r *recordingEmitter) Emit(_ context.Context, d pubsub.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

type peerMap map[string][]string

func (p peerMap) Peers(_ context.Context, userID string) ([]string, error) {
	if userID == "broken" {
		return nil, errors.New("store down")
	}
	return p[userID], nil
}

func TestSinks(t *testing.T) {
	ctx := context.Background()

	t.Run("global excludes the subject", func(t *testing.T) {
		em := &recordingEmitter{}
		require.NoError(t, GlobalSink{Emitter: em}.Publish(ctx, "alice", []byte("f")))
		assert.Equal(t, []pubsub.Delivery{pubsub.ToAll([]byte("f"), "alice")}, em.deliveries)
	})

	t.Run("peers reach personal rooms", func(t *testing.T) {
		em := &recordingEmitter{}
		sink := PeerSink{Emitter: em, Peers: peerMap{"alice": {"bob", "carol"}}}
		require.NoError(t, sink.Publish(ctx, "alice", []byte("f")))
		assert.Equal(t, []pubsub.Delivery{
			pubsub.ToRoom("user:bob", []byte("f"), ""),
			pubsub.ToRoom("user:carol", []byte("f"), ""),
		}, em.deliveries)

		assert.Error(t, sink.Publish(ctx, "broken", []byte("f")))
	})
}
