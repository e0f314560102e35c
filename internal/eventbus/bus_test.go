package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullcache/cachemgr/internal/eventbus"
)

type recordingSubscriber struct {
	id string
	mu sync.Mutex
	got []eventbus.Event
}

func (r *recordingSubscriber) ID() string { return r.id }

func (r *recordingSubscriber) Send(e eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func (r *recordingSubscriber) events() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.got...)
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := eventbus.New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	sub := &recordingSubscriber{id: "s1"}
	bus.Subscribe(sub)
	require.Equal(t, 1, bus.ActiveSubscribers())

	require.NoError(t, bus.Publish(eventbus.NewEvent(eventbus.EventConfigLoaded, "A", nil)))

	require.Eventually(t, func() bool { return len(sub.events()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, eventbus.EventConfigLoaded, sub.events()[0].Type)
	require.Equal(t, int64(1), sub.events()[0].Sequence)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := eventbus.New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	sub := &recordingSubscriber{id: "s1"}
	bus.Subscribe(sub)
	bus.Unsubscribe(sub)
	require.Equal(t, 0, bus.ActiveSubscribers())

	require.NoError(t, bus.Publish(eventbus.NewEvent(eventbus.EventStateChanged, "A", nil)))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sub.events())
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	bus := eventbus.New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	sub := &recordingSubscriber{id: "s1"}
	bus.Subscribe(sub)

	require.NoError(t, bus.Publish(eventbus.NewEvent(eventbus.EventConfigLoaded, "A", nil)))
	require.NoError(t, bus.Publish(eventbus.NewEvent(eventbus.EventConfigLoaded, "B", nil)))

	require.Eventually(t, func() bool { return len(sub.events()) == 2 }, time.Second, time.Millisecond)
	events := sub.events()
	require.Equal(t, int64(1), events[0].Sequence)
	require.Equal(t, int64(2), events[1].Sequence)
}
