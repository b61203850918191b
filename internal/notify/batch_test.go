package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatches_RunsToCompletion(t *testing.T) {
	tr := &fakeTransport{}
	b := NewBatches(context.Background(), NewDispatcher(tr, Options{}, nil), nil)

	id := b.Start(jobsFor("a", "b", "c"))
	select {
	case <-b.Done(id):
	case <-time.After(time.Second):
		t.Fatal("batch did not finish")
	}

	st, ok := b.Status(id)
	require.True(t, ok)
	assert.True(t, st.Done)
	assert.False(t, st.Cancelled)
	assert.Equal(t, 3, st.Sent)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, []string{"a", "b", "c"}, st.Succeeded)
	assert.Empty(t, st.Failed)
}

func TestBatches_Cancel(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	tr := &fakeTransport{send: func(_ context.Context, m Message) error {
		if m.To == "a@example.org" {
			close(entered)
			<-release
		}
		return nil
	}}
	b := NewBatches(context.Background(), NewDispatcher(tr, Options{}, nil), nil)

	id := b.Start(jobsFor("a", "b", "c"))
	<-entered

	st, ok := b.Status(id)
	require.True(t, ok)
	assert.False(t, st.Done)
	assert.Equal(t, 0, st.Sent)

	require.True(t, b.Cancel(id))
	close(release)
	<-b.Done(id)

	st, _ = b.Status(id)
	assert.True(t, st.Done)
	assert.True(t, st.Cancelled)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, []string{"a"}, st.Succeeded)
	assert.Equal(t, 1, tr.count())
}

func TestBatches_UnknownID(t *testing.T) {
	b := NewBatches(context.Background(), NewDispatcher(&fakeTransport{}, Options{}, nil), nil)

	_, ok := b.Status("nope")
	assert.False(t, ok)
	assert.False(t, b.Cancel("nope"))
	select {
	case <-b.Done("nope"):
	default:
		t.Fatal("done channel of unknown batch should be closed")
	}
}
