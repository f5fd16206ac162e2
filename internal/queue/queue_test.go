package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(2)
	require.NoError(t, q.Publish(ctx, Message{Type: "attendance", Body: []byte(`{"a":1}`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "attendance", Body: []byte(`{"a":2}`)}))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	first := <-out
	second := <-out
	assert.Equal(t, []byte(`{"a":1}`), first.Body)
	assert.Equal(t, []byte(`{"a":2}`), second.Body)
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "attendance"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, Message{Type: "attendance"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryConsumeClosesOnCancelWhileBlockedSending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "attendance"}))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	// Never read the pending message; the forwarder is blocked sending it.
	time.Sleep(10 * time.Millisecond)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-out:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("consume channel did not close after cancel")
		}
	}
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	out, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("consume channel did not close after cancel")
	}
}
