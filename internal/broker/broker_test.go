package broker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/broker"
	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/mailbox"
)

var (
	skade = broker.User{ID: "skade", DisplayName: "Skade"}
	other = broker.User{ID: "other", DisplayName: "Other"}
	third = broker.User{ID: "third", DisplayName: "Third"}
)

func newTestBroker(filters ...broker.Filter) *broker.Broker {
	return broker.New(
		broker.WithLogger(logger.Discard()),
		broker.WithFilters(filters...),
	)
}

// drain returns everything currently queued on ch without blocking.
func drain(ch broker.DeliveryChannel) []string {
	var out []string
	for {
		v, ok := ch.TryPop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// receive waits for the next payload on ch.
func receive(t *testing.T, ch broker.DeliveryChannel) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := ch.Pop(ctx)
	require.NoError(t, err, "timed out waiting for delivery")
	return v
}

func TestConnectDisconnect(t *testing.T) {
	b := newTestBroker()
	ch := broker.NewDeliveryChannel()

	b.Handle(broker.Connect{User: skade, Channel: ch})
	assert.Equal(t, 1, b.Registry().Len())

	b.Handle(broker.Disconnect{User: skade})
	assert.Equal(t, 0, b.Registry().Len())

	_, ok := b.Registry().Lookup(skade.ID)
	assert.False(t, ok)
	assert.True(t, ch.Closed(), "removed delivery channel should be closed")
}

func TestDisconnectUnknownUserIsNoop(t *testing.T) {
	b := newTestBroker()
	ch := broker.NewDeliveryChannel()
	b.Handle(broker.Connect{User: skade, Channel: ch})

	b.Handle(broker.Disconnect{User: other})

	assert.Equal(t, 1, b.Registry().Len())
	assert.False(t, ch.Closed())
}

func TestSendingExcludesSender(t *testing.T) {
	b := newTestBroker()
	chSkade := broker.NewDeliveryChannel()
	chOther := broker.NewDeliveryChannel()

	b.Handle(broker.Connect{User: skade, Channel: chSkade})
	b.Handle(broker.Connect{User: other, Channel: chOther})
	require.Equal(t, 2, b.Registry().Len())

	b.Handle(broker.Sending{From: skade.ID, Text: "Hello!"})

	assert.Equal(t, []string{"Hello!"}, drain(chOther))
	assert.Empty(t, drain(chSkade))
}

func TestFilterDropsMessage(t *testing.T) {
	b := newTestBroker(broker.LengthFilter{MaxLength: 10})
	chSkade := broker.NewDeliveryChannel()
	chOther := broker.NewDeliveryChannel()

	b.Handle(broker.Connect{User: skade, Channel: chSkade})
	b.Handle(broker.Connect{User: other, Channel: chOther})

	b.Handle(broker.Sending{From: skade.ID, Text: "Hello! HelllOOOO!"})

	assert.Empty(t, drain(chOther))
	assert.Empty(t, drain(chSkade))
}

func TestFilterBoundaryThroughBroker(t *testing.T) {
	b := newTestBroker(broker.LengthFilter{MaxLength: 10})
	chOther := broker.NewDeliveryChannel()

	b.Handle(broker.Connect{User: skade, Channel: broker.NewDeliveryChannel()})
	b.Handle(broker.Connect{User: other, Channel: chOther})

	b.Handle(broker.Sending{From: skade.ID, Text: "0123456789"})
	b.Handle(broker.Sending{From: skade.ID, Text: "0123456789A"})

	assert.Equal(t, []string{"0123456789"}, drain(chOther))
}

func TestLaterFiltersSkippedAfterBlock(t *testing.T) {
	var secondCalls int
	b := newTestBroker(
		broker.LengthFilter{MaxLength: 3},
		broker.FilterFunc(func(string) broker.Verdict {
			secondCalls++
			return broker.Allow
		}),
	)
	b.Handle(broker.Connect{User: other, Channel: broker.NewDeliveryChannel()})

	b.Handle(broker.Sending{From: skade.ID, Text: "too long"})
	assert.Equal(t, 0, secondCalls)

	b.Handle(broker.Sending{From: skade.ID, Text: "ok"})
	assert.Equal(t, 1, secondCalls)
}

func TestReRegistrationReplacesChannel(t *testing.T) {
	b := newTestBroker()
	c1 := broker.NewDeliveryChannel()
	c2 := broker.NewDeliveryChannel()

	b.Handle(broker.Connect{User: other, Channel: c1})
	b.Handle(broker.Connect{User: other, Channel: c2})
	b.Handle(broker.Connect{User: skade, Channel: broker.NewDeliveryChannel()})

	assert.Equal(t, 2, b.Registry().Len())
	got, ok := b.Registry().Lookup(other.ID)
	require.True(t, ok)
	assert.Same(t, c2, got)

	b.Handle(broker.Sending{From: skade.ID, Text: "hi"})

	assert.Empty(t, drain(c1))
	assert.Equal(t, []string{"hi"}, drain(c2))
	assert.False(t, c1.Closed(), "replaced channel is abandoned, not closed")
}

func TestDisconnectAfterReRegistrationRemovesLatest(t *testing.T) {
	b := newTestBroker()
	c1 := broker.NewDeliveryChannel()
	c2 := broker.NewDeliveryChannel()

	b.Handle(broker.Connect{User: other, Channel: c1})
	b.Handle(broker.Connect{User: other, Channel: c2})
	b.Handle(broker.Disconnect{User: other})

	assert.Equal(t, 0, b.Registry().Len())
	assert.True(t, c2.Closed(), "latest channel is the one removed")
	assert.False(t, c1.Closed())
}

func TestDeliveryFailureIsIsolated(t *testing.T) {
	b := newTestBroker()
	chOther := broker.NewDeliveryChannel()
	chThird := broker.NewDeliveryChannel()
	chGone := broker.NewDeliveryChannel()
	gone := broker.User{ID: "gone", DisplayName: "Gone"}

	go b.Run()

	require.NoError(t, b.Submit(broker.Connect{User: other, Channel: chOther}))
	require.NoError(t, b.Submit(broker.Connect{User: third, Channel: chThird}))
	require.NoError(t, b.Submit(broker.Connect{User: gone, Channel: chGone}))
	// The egress side went away before the broker delivered anything.
	chGone.Close()

	require.NoError(t, b.Submit(broker.Sending{From: skade.ID, Text: "first"}))
	require.NoError(t, b.Submit(broker.Sending{From: skade.ID, Text: "second"}))

	assert.Equal(t, "first", receive(t, chOther))
	assert.Equal(t, "first", receive(t, chThird))
	assert.Equal(t, "second", receive(t, chOther))
	assert.Equal(t, "second", receive(t, chThird))

	require.NoError(t, b.Shutdown(time.Second))
	// Entries leave the registry only through Disconnect.
	assert.Equal(t, 3, b.Registry().Len())
}

func TestRunEndToEnd(t *testing.T) {
	b := newTestBroker()
	chSkade := broker.NewDeliveryChannel()
	chOther := broker.NewDeliveryChannel()

	go b.Run()

	require.NoError(t, b.Submit(broker.Connect{User: broker.NewUser("skade"), Channel: chSkade}))
	require.NoError(t, b.Submit(broker.Connect{User: broker.NewUser("other"), Channel: chOther}))
	require.NoError(t, b.Submit(broker.Sending{From: "skade", Text: "Hello!"}))

	assert.Equal(t, "Hello!", receive(t, chOther))

	require.NoError(t, b.Shutdown(time.Second))
	assert.Empty(t, drain(chSkade))
	assert.Empty(t, drain(chOther))
}

func TestWithQueueProcessesPrefilledEvents(t *testing.T) {
	q := mailbox.New[broker.Event]()
	chSkade := broker.NewDeliveryChannel()
	chOther := broker.NewDeliveryChannel()

	require.NoError(t, q.Push(broker.Connect{User: skade, Channel: chSkade}))
	require.NoError(t, q.Push(broker.Connect{User: other, Channel: chOther}))
	require.NoError(t, q.Push(broker.Sending{From: skade.ID, Text: "queued"}))
	require.NoError(t, q.Push(broker.Stop{}))

	b := broker.New(broker.WithLogger(logger.Discard()), broker.WithQueue(q))
	b.Run()

	assert.Equal(t, []string{"queued"}, drain(chOther))
	assert.Empty(t, drain(chSkade))
	assert.Equal(t, 2, b.Registry().Len())
	assert.True(t, q.Closed(), "Run closes the queue it consumed")
	assert.ErrorIs(t, b.Submit(broker.Sending{From: skade.ID, Text: "late"}), broker.ErrStopped)
}

func TestStopEndsLoopBeforeLaterEvents(t *testing.T) {
	b := newTestBroker()
	ch := broker.NewDeliveryChannel()

	require.NoError(t, b.Submit(broker.Stop{}))
	require.NoError(t, b.Submit(broker.Connect{User: skade, Channel: ch}))

	b.Run()

	select {
	case <-b.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
	assert.Equal(t, 0, b.Registry().Len(), "events after Stop must not be processed")
	assert.ErrorIs(t, b.Submit(broker.Sending{From: skade.ID, Text: "late"}), broker.ErrStopped)
}

func TestHandleIgnoresStopAndNil(t *testing.T) {
	b := newTestBroker()
	ch := broker.NewDeliveryChannel()
	b.Handle(broker.Connect{User: skade, Channel: ch})

	assert.NotPanics(t, func() {
		b.Handle(broker.Stop{})
		b.Handle(nil)
		b.Handle(broker.Connect{User: other})
	})
	assert.Equal(t, 1, b.Registry().Len())
}

func TestRunTwiceIsRejected(t *testing.T) {
	b := newTestBroker()
	go b.Run()
	time.Sleep(10 * time.Millisecond)

	returned := make(chan struct{})
	go func() {
		b.Run()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("second Run call should return immediately")
	}
	require.NoError(t, b.Shutdown(time.Second))
}

func TestShutdownTimeoutWithoutRun(t *testing.T) {
	b := newTestBroker()
	err := b.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPerRecipientOrderPreserved(t *testing.T) {
	b := newTestBroker()
	ch := broker.NewDeliveryChannel()
	go b.Run()

	require.NoError(t, b.Submit(broker.Connect{User: other, Channel: ch}))
	for i := 0; i < 200; i++ {
		require.NoError(t, b.Submit(broker.Sending{From: skade.ID, Text: fmt.Sprintf("msg-%d", i)}))
	}

	for i := 0; i < 200; i++ {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), receive(t, ch))
	}
	require.NoError(t, b.Shutdown(time.Second))
}

func TestConcurrentSendersDeliverExactlyOnce(t *testing.T) {
	const (
		senders   = 10
		perSender = 50
	)
	b := newTestBroker()
	listener := broker.NewDeliveryChannel()
	go b.Run()

	require.NoError(t, b.Submit(broker.Connect{User: other, Channel: listener}))

	var wg sync.WaitGroup
	wg.Add(senders)
	for s := 0; s < senders; s++ {
		go func(s int) {
			defer wg.Done()
			from := broker.UserID(fmt.Sprintf("sender-%d", s))
			for i := 0; i < perSender; i++ {
				_ = b.Submit(broker.Sending{From: from, Text: fmt.Sprintf("%d:%d", s, i)})
			}
		}(s)
	}
	wg.Wait()

	seen := make(map[string]int)
	for i := 0; i < senders*perSender; i++ {
		seen[receive(t, listener)]++
	}
	require.NoError(t, b.Shutdown(time.Second))

	assert.Len(t, seen, senders*perSender)
	for msg, n := range seen {
		assert.Equal(t, 1, n, "message %q delivered %d times", msg, n)
	}
	assert.Empty(t, drain(listener))
}
