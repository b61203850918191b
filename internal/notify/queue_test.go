package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clubattend/internal/queue"
)

func TestQueuePublisher_RoundTrip(t *testing.T) {
	q := queue.NewInMemory(4)
	d := 42
	j := Job{RecipientName: "Ada", RecipientEmail: "ada@example.org", Kind: KindCheckOut, DurationMinutes: &d}
	require.NoError(t, NewQueuePublisher(q).Publish(context.Background(), j))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := <-msgs
	got, err := DecodeJob(msg)
	require.NoError(t, err)
	assert.Equal(t, j.RecipientEmail, got.RecipientEmail)
	require.NotNil(t, got.DurationMinutes)
	assert.Equal(t, 42, *got.DurationMinutes)

	_, err = DecodeJob(queue.Message{Type: "other"})
	assert.Error(t, err)
}

func TestConsume_SendsQueuedJobs(t *testing.T) {
	q := queue.NewInMemory(4)
	tr := &fakeTransport{}
	pub := NewQueuePublisher(q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Consume(ctx, q, NewDispatcher(tr, Options{}, nil), zap.NewNop()) }()

	require.NoError(t, pub.Publish(ctx, Job{RecipientName: "Ada", RecipientEmail: "ada@example.org", Kind: KindCheckIn}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: MessageType, Body: []byte("not json")}))
	require.NoError(t, pub.Publish(ctx, Job{RecipientName: "Bob", Kind: KindCheckIn}))
	require.NoError(t, pub.Publish(ctx, Job{RecipientName: "Grace", RecipientEmail: "grace@example.org", Kind: KindCheckIn}))

	require.Eventually(t, func() bool { return tr.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
