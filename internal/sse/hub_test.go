package sse

import (
	"testing"

	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

func testHub(t *testing.T) *SSEHub {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return NewSSEHub(log)
}

func TestBroadcastDeliversToSubscribedChannel(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()

	client := hub.NewSSEClient(userID)
	hub.AddChannel(client, userID.String())

	hub.Broadcast(SSEMessage{
		Channel: userID.String(),
		Event:   SSEEventJobProgress,
		Data:    map[string]any{"progress": 35},
	})

	select {
	case msg := <-client.Outbound:
		if msg.Event != SSEEventJobProgress {
			t.Fatalf("event = %s, want %s", msg.Event, SSEEventJobProgress)
		}
	default:
		t.Fatalf("no message delivered to subscribed client")
	}
}

func TestBroadcastSkipsOtherChannels(t *testing.T) {
	hub := testHub(t)

	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "channel-a")

	hub.Broadcast(SSEMessage{Channel: "channel-b", Event: SSEEventJobDone})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("client on channel-a received %+v", msg)
	default:
	}
}

func TestBroadcastEmptyChannelIsNoop(t *testing.T) {
	hub := testHub(t)

	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "channel-a")

	hub.Broadcast(SSEMessage{Channel: "", Event: SSEEventJobDone})

	if len(client.Outbound) != 0 {
		t.Fatalf("empty-channel broadcast delivered a message")
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := testHub(t)

	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "busy")

	// one past capacity; the extra send must drop, not block
	for i := 0; i < cap(client.Outbound)+1; i++ {
		hub.Broadcast(SSEMessage{Channel: "busy", Event: SSEEventJobProgress, Data: i})
	}

	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered = %d, want %d", got, cap(client.Outbound))
	}
}

func TestCloseClientStopsDelivery(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()

	client := hub.NewSSEClient(userID)
	hub.AddChannel(client, userID.String())
	hub.CloseClient(client)

	hub.mu.RLock()
	_, subscribed := hub.subscriptions[userID.String()]
	hub.mu.RUnlock()
	if subscribed {
		t.Fatalf("channel subscription survived CloseClient")
	}

	// broadcast after close must not panic on the closed channel
	hub.Broadcast(SSEMessage{Channel: userID.String(), Event: SSEEventJobDone})
}
