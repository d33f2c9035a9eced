package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"namingpush/internal/naming"
)

func TestPublishFansOutAndStampsTime(t *testing.T) {
	t.Parallel()
	bus := New()
	a, unsubA := bus.Subscribe(4)
	defer unsubA()
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	svc := naming.NewService("public", "DEFAULT_GROUP", "orders")
	bus.Publish(ServiceChanged{Service: svc, Change: naming.ChangeChanged})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			got, ok := e.(ServiceChanged)
			require.True(t, ok)
			assert.Equal(t, svc, got.Service)
			assert.False(t, got.OccurredAt().IsZero())
			assert.Equal(t, "service.changed", got.Kind())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	bus := New()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(ClientSubscribed{ClientID: "c1"})
	bus.Publish(ClientSubscribed{ClientID: "c2"})

	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	bus := New()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)
	bus.Publish(FuzzyWatchInit{ClientID: "c1", Pattern: "app*"})
	assert.Zero(t, bus.Dropped())
}
