package eventbus

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/promptlab/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) fn(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type()
	}
	return out
}

func TestSubscribeDeliversConnectedFirst(t *testing.T) {
	bus := New(testLogger())
	var rec recorder

	sub := bus.Subscribe(rec.fn)
	bus.Emit(TestCaseDeleted{TestCaseID: uuid.New()})

	require.Equal(t, []string{TypeConnected, TypeTestCaseDeleted}, rec.types())
	assert.Equal(t, Connected{ClientID: sub.ID()}, rec.events[0])
}

func TestClientIDsAreSequential(t *testing.T) {
	bus := New(testLogger())
	a := bus.Subscribe(func(Event) error { return nil })
	b := bus.Subscribe(func(Event) error { return nil })
	a.Unsubscribe()
	c := bus.Subscribe(func(Event) error { return nil })

	assert.Equal(t, "client-1", a.ID())
	assert.Equal(t, "client-2", b.ID())
	assert.Equal(t, "client-3", c.ID())
	assert.Equal(t, 2, bus.SubscriberCount())
}

func TestFailingSubscriberIsRemovedAndOthersStillReceive(t *testing.T) {
	bus := New(testLogger())
	var before, after recorder
	bus.Subscribe(before.fn)

	calls := 0
	failing := bus.Subscribe(func(ev Event) error {
		calls++
		if ev.Type() == TypeConnected {
			return nil
		}
		return errors.New("socket closed")
	})
	bus.Subscribe(after.fn)
	require.Equal(t, 3, bus.SubscriberCount())

	bus.Emit(TestCaseDeleted{TestCaseID: uuid.New()})
	bus.Emit(TestCaseDeleted{TestCaseID: uuid.New()})

	assert.Equal(t, 2, calls, "removed subscriber must not be called again")
	assert.False(t, bus.Active(failing))
	assert.Equal(t, 2, bus.SubscriberCount())
	assert.Len(t, before.types(), 3)
	assert.Len(t, after.types(), 3)
}

func TestPanickingSubscriberIsRemoved(t *testing.T) {
	bus := New(testLogger())
	var rec recorder
	bus.Subscribe(func(ev Event) error {
		if ev.Type() != TypeConnected {
			panic("boom")
		}
		return nil
	})
	bus.Subscribe(rec.fn)

	assert.NotPanics(t, func() { bus.Emit(ConfigUpdated{}) })
	assert.Equal(t, 1, bus.SubscriberCount())
	assert.Equal(t, []string{TypeConnected, TypeConfigUpdated}, rec.types())
}

func TestFailedConnectedDeliveryRemovesSubscriber(t *testing.T) {
	bus := New(testLogger())
	removed := false
	sub := bus.Subscribe(func(Event) error { return errors.New("gone") }, OnRemove(func() { removed = true }))

	assert.False(t, bus.Active(sub))
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.True(t, removed)
}

func TestInitialStateFollowsConnected(t *testing.T) {
	bus := New(testLogger())
	var rec recorder
	bus.Subscribe(rec.fn, WithInitialState(func() (Event, error) {
		return InitialState{Config: model.EnhancerConfig{Version: 3}}, nil
	}))

	require.Equal(t, []string{TypeConnected, TypeInitialState}, rec.types())
	assert.Equal(t, 3, rec.events[1].(InitialState).Config.Version)
}

func TestInitialStateErrorRemovesSubscriber(t *testing.T) {
	bus := New(testLogger())
	sub := bus.Subscribe(func(Event) error { return nil }, WithInitialState(func() (Event, error) {
		return nil, errors.New("store down")
	}))
	assert.False(t, bus.Active(sub))
}

func TestEmitOrderIsTotal(t *testing.T) {
	bus := New(testLogger())
	var a, b recorder
	bus.Subscribe(a.fn)
	bus.Subscribe(b.fn)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(TestCaseDeleted{TestCaseID: uuid.New()})
		}()
	}
	wg.Wait()

	a.mu.Lock()
	b.mu.Lock()
	defer a.mu.Unlock()
	defer b.mu.Unlock()
	require.Len(t, a.events, 51)
	// Skip each subscriber's own Connected event.
	assert.Equal(t, a.events[1:], b.events[1:])
}

func TestUnsubscribeAndClear(t *testing.T) {
	bus := New(testLogger())
	var rec recorder
	sub := bus.Subscribe(rec.fn)
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Emit(ConfigUpdated{})
	assert.Equal(t, []string{TypeConnected}, rec.types())

	closed := 0
	bus.Subscribe(func(Event) error { return nil }, OnRemove(func() { closed++ }))
	bus.Subscribe(func(Event) error { return nil }, OnRemove(func() { closed++ }))
	bus.Clear()
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.Equal(t, 2, closed)
}

func TestChannelSinkOverflowDropsSubscriber(t *testing.T) {
	bus := New(testLogger())
	sink := NewChannelSink(2)
	sub := bus.SubscribeSink(sink)

	bus.Emit(ConfigUpdated{}) // fills the buffer with Connected + this
	bus.Emit(ConfigUpdated{}) // overflows

	assert.False(t, bus.Active(sub))
	select {
	case <-sink.Done():
	default:
		t.Fatal("sink should be closed after overflow")
	}
	assert.Len(t, sink.Events(), 2)
	assert.ErrorIs(t, sink.Send(ConfigUpdated{}), ErrSinkClosed)
}

func TestEncodeWireShape(t *testing.T) {
	id := uuid.New()
	raw, err := Encode(TestCaseDeleted{TestCaseID: id})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]any{"type": "test_case_deleted", "test_case_id": id.String()}, got)

	raw, err = Encode(InitialState{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "initial_state", got["type"])
	assert.Equal(t, []any{}, got["test_cases"])
	assert.NotContains(t, got, "latest_changelog_id")
}

func TestEncodeEveryEventType(t *testing.T) {
	events := []Event{
		Connected{ClientID: "client-1"},
		InitialState{},
		ConfigUpdated{},
		TestCaseAdded{},
		TestCaseUpdated{},
		TestCaseDeleted{},
		TestResultUpdated{},
		ChangelogEntryAdded{},
	}
	for _, ev := range events {
		t.Run(ev.Type(), func(t *testing.T) {
			raw, err := Encode(ev)
			require.NoError(t, err)
			var got struct {
				Type string `json:"type"`
			}
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, ev.Type(), got.Type)
		})
	}
}
