package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAccess struct {
	err error
}

func (s stubAccess) CanSubscribe(context.Context, string, string, string, string) error {
	return s.err
}

func waitForEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case evt := <-sub.Send:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeOwnUserTopic(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "org-1")
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeUser, "user-1"))
	assert.Equal(t, 1, b.SubscriberCount(ScopeUser, "user-1"))
}

func TestSubscribeForeignUserTopicRejected(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "org-1")
	err := b.Subscribe(context.Background(), sub, ScopeUser, "user-2")
	assert.Error(t, err)
	assert.Equal(t, 0, b.SubscriberCount(ScopeUser, "user-2"))
}

func TestSubscribeForeignOrgTopicRejected(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "org-1")
	assert.Error(t, b.Subscribe(context.Background(), sub, ScopeOrganization, "org-2"))

	orgless := NewSubscriber("s2", "user-2", "")
	assert.Error(t, b.Subscribe(context.Background(), orgless, ScopeOrganization, ""))
}

func TestSubscribeVerificationTopicChecked(t *testing.T) {
	denied := NewBroadcaster(stubAccess{err: errors.New("no access")}, zap.NewNop())
	defer denied.Close()

	sub := NewSubscriber("s1", "user-1", "")
	assert.Error(t, denied.Subscribe(context.Background(), sub, ScopeVerification, "v-1"))

	allowed := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer allowed.Close()
	require.NoError(t, allowed.Subscribe(context.Background(), sub, ScopeVerification, "v-1"))
}

func TestSubscribeUnknownScopeRejected(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "")
	assert.Error(t, b.Subscribe(context.Background(), sub, "galaxy", "g-1"))
}

func TestPublishFansOutToTopic(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "")
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeVerification, "v-1"))

	b.Publish(Event{
		Kind:           KindStatusUpdate,
		VerificationID: "v-1",
		DocumentID:     "d-1",
		UserID:         "user-9",
	})

	evt := waitForEvent(t, sub)
	assert.Equal(t, KindStatusUpdate, evt.Kind)
	assert.Equal(t, "v-1", evt.VerificationID)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestPublishSkipsUnrelatedTopics(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "")
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeVerification, "v-other"))

	b.Publish(Event{Kind: KindCompleted, VerificationID: "v-1", DocumentID: "d-1", UserID: "u-1"})

	select {
	case evt := <-sub.Send:
		t.Fatalf("unexpected event %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFanOutDeliversAtMostOncePerSubscriber(t *testing.T) {
	// One subscriber on two topics the same event maps to still gets a single
	// delivery.
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "")
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeVerification, "v-1"))
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeDocument, "d-1"))

	b.Publish(Event{Kind: KindCompleted, VerificationID: "v-1", DocumentID: "d-1", UserID: "u-1"})

	first := waitForEvent(t, sub)
	assert.Equal(t, KindCompleted, first.Kind)

	select {
	case evt := <-sub.Send:
		t.Fatalf("duplicate delivery %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFullSubscriberBufferDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "")
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeUser, "user-1"))

	// Nothing drains sub.Send; publishing beyond its capacity must not wedge
	// the fan-out loop.
	for i := 0; i < cap(sub.Send)+16; i++ {
		b.Publish(Event{Kind: KindStatusUpdate, VerificationID: "v-1", DocumentID: "d-1", UserID: "user-1"})
	}

	other := NewSubscriber("s2", "user-2", "")
	require.NoError(t, b.Subscribe(context.Background(), other, ScopeUser, "user-2"))
	b.Publish(Event{Kind: KindCompleted, VerificationID: "v-2", DocumentID: "d-2", UserID: "user-2"})

	evt := waitForEvent(t, other)
	assert.Equal(t, KindCompleted, evt.Kind)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "")
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeVerification, "v-1"))
	b.Unsubscribe(sub, ScopeVerification, "v-1")

	assert.Equal(t, 0, b.SubscriberCount(ScopeVerification, "v-1"))

	b.Publish(Event{Kind: KindCompleted, VerificationID: "v-1", DocumentID: "d-1", UserID: "u-1"})
	select {
	case evt := <-sub.Send:
		t.Fatalf("unexpected event %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoveDetachesFromAllTopics(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()

	sub := NewSubscriber("s1", "user-1", "org-1")
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeVerification, "v-1"))
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeDocument, "d-1"))
	require.NoError(t, b.Subscribe(context.Background(), sub, ScopeUser, "user-1"))

	b.Remove(sub)

	assert.Equal(t, 0, b.SubscriberCount(ScopeVerification, "v-1"))
	assert.Equal(t, 0, b.SubscriberCount(ScopeDocument, "d-1"))
	assert.Equal(t, 0, b.SubscriberCount(ScopeUser, "user-1"))
	assert.Empty(t, sub.joinedTopics())
}
