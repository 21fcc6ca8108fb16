package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBrokerPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewLocalBroker()
	defer b.Close()

	ch, err := b.Subscribe(ctx, "dose-events")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "dose-events", Message{Type: "dose.taken", Payload: map[string]string{"id": "1"}}))
	require.NoError(t, b.Publish(ctx, "other", Message{Type: "ignored"}))

	select {
	case raw := <-ch:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "dose.taken", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	select {
	case raw := <-ch:
		t.Fatalf("unexpected message %s", raw)
	default:
	}
}

func TestLocalBrokerClosed(t *testing.T) {
	b := NewLocalBroker()
	require.NoError(t, b.Close())
	assert.Error(t, b.Publish(context.Background(), "c", "x"))
	require.NoError(t, b.Close())
}
