package liveserver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewHub verifies hub creation
func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
}

// TestHubRegisterClient verifies client registration
func TestHubRegisterClient(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	client := NewClient("test-1")
	hub.Register(client)

	// Wait for registration
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, hub.ClientCount())
}

// TestHubUnregisterClient verifies client unregistration
func TestHubUnregisterClient(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	client := NewClient("test-1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 0, hub.ClientCount())
}

// TestHubBroadcast verifies message broadcasting
func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	client := NewClient("test-1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	// Broadcast message
	msg := Message{Type: "kline", Data: map[string]interface{}{"price": "42000"}}
	hub.Broadcast(msg)

	// Client should receive message
	select {
	case received := <-client.GetSendChan():
		assert.Equal(t, msg.Type, received.Type)
		assert.Equal(t, msg.Data, received.Data)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Client did not receive message")
	}
}

// TestHubBroadcastToMultipleClients verifies broadcasting to multiple clients
func TestHubBroadcastToMultipleClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	// Register multiple clients
	client1 := NewClient("test-1")
	client2 := NewClient("test-2")
	client3 := NewClient("test-3")

	hub.Register(client1)
	hub.Register(client2)
	hub.Register(client3)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 3, hub.ClientCount())

	// Broadcast message
	msg := Message{Type: "kline", Data: map[string]interface{}{"price": "42000"}}
	hub.Broadcast(msg)

	// All clients should receive
	var wg sync.WaitGroup
	wg.Add(3)

	checkClient := func(client *Client) {
		defer wg.Done()
		select {
		case received := <-client.GetSendChan():
			assert.Equal(t, msg.Type, received.Type)
		case <-time.After(100 * time.Millisecond):
			t.Error("Client did not receive message")
		}
	}

	go checkClient(client1)
	go checkClient(client2)
	go checkClient(client3)

	wg.Wait()
}

// TestHubShutdown verifies graceful shutdown
func TestHubShutdown(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())

	go hub.Run(ctx)

	client := NewClient("test-1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	// Cancel context to trigger shutdown
	cancel()
	time.Sleep(10 * time.Millisecond)

	// Hub should have closed all clients
	assert.Equal(t, 0, hub.ClientCount())
}

// TestClientSend verifies client send functionality
func TestClientSend(t *testing.T) {
	client := NewClient("test")

	msg := Message{Type: "kline", Data: "test"}
	success := client.Send(msg)

	assert.True(t, success)

	// Receive message
	received := <-client.GetSendChan()
	assert.Equal(t, msg, received)
}

// TestClientSendWhenClosed verifies send fails when client is closed
func TestClientSendWhenClosed(t *testing.T) {
	client := NewClient("test")
	client.Close()

	msg := Message{Type: "kline", Data: "test"}
	success := client.Send(msg)

	assert.False(t, success)
}

// TestSlowClientNeverDisconnected verifies a client whose buffer fills up is
// kept registered — the oldest buffered message is dropped instead.
func TestSlowClientNeverDisconnected(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	client := NewClient("slow-client")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, 1, hub.ClientCount())

	// Send far more than the client's buffer capacity without reading.
	for i := 0; i < 600; i++ {
		hub.Broadcast(Message{Type: "candle", Data: fmt.Sprintf("msg-%d", i)})
	}
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, hub.ClientCount(), "a lagging client must stay registered")
}

// TestClientSendMarksLossyOnOverflow verifies the drop-oldest-mark-lossy policy.
func TestClientSendMarksLossyOnOverflow(t *testing.T) {
	client := NewClient("test")
	buffered := cap(client.send)

	for i := 0; i < buffered; i++ {
		require.True(t, client.Send(Message{Type: "candle", Data: i}))
	}

	// One more push must succeed (never fails due to backpressure) and the
	// oldest message must have been evicted.
	require.True(t, client.Send(Message{Type: "candle", Data: "overflow"}))

	first := <-client.GetSendChan()
	assert.NotEqual(t, 0, first.Data, "oldest message should have been dropped")

	var last Message
	for i := 1; i < buffered; i++ {
		last = <-client.GetSendChan()
	}
	assert.Equal(t, "overflow", last.Data)
	assert.True(t, last.Lossy, "the message that displaced the oldest should be marked lossy")
}

// TestConcurrentBroadcasts verifies hub handles concurrent broadcasts
func TestConcurrentBroadcasts(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	client := NewClient("test")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	// Concurrent broadcasts
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := Message{Type: "kline", Data: fmt.Sprintf("msg-%d", i)}
			hub.Broadcast(msg)
		}(i)
	}

	wg.Wait()

	// Hub should still be running
	assert.Equal(t, 1, hub.ClientCount())
}

// BenchmarkHubBroadcast benchmarks broadcast performance
func BenchmarkHubBroadcast(b *testing.B) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)

	// Register 100 clients
	clients := make([]*Client, 100)
	for i := 0; i < 100; i++ {
		clients[i] = NewClient(fmt.Sprintf("client-%d", i))
		hub.Register(clients[i])
	}
	time.Sleep(50 * time.Millisecond)

	msg := Message{Type: "kline", Data: map[string]interface{}{"price": "42000"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(msg)
	}
}

// TestMessage verifies message structure
func TestMessage(t *testing.T) {
	msg := Message{
		Type: TypeCandle,
		Data: map[string]interface{}{
			"time":  1705881600,
			"price": "42000.00",
		},
	}

	assert.Equal(t, TypeCandle, msg.Type)
	assert.NotNil(t, msg.Data)
}

// TestMessageConstants verifies message type constants
func TestMessageConstants(t *testing.T) {
	require.Equal(t, "snapshot", TypeSnapshot)
	require.Equal(t, "positions", TypePositions)
	require.Equal(t, "orders", TypeOrders)
	require.Equal(t, "open-orders", TypeOpenOrders)
	require.Equal(t, "equity", TypeEquity)
	require.Equal(t, "health", TypeHealth)
	require.Equal(t, "candle", TypeCandle)
	require.Equal(t, "signals", TypeSignals)
	require.Equal(t, "prices", TypePrices)
}
