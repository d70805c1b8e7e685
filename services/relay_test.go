package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Relay tests need Redis on localhost:6379 and are skipped without it.
const testRedisAddr = "localhost:6379"

type captured struct {
	mu       sync.Mutex
	messages map[int64][][]byte
}

func (c *captured) PublishEncoded(boardID int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages == nil {
		c.messages = make(map[int64][][]byte)
	}
	c.messages[boardID] = append(c.messages[boardID], data)
}

func (c *captured) count(boardID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages[boardID])
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func startRelay(t *testing.T, client *redis.Client, channel string, local LocalPublisher) *Relay {
	t.Helper()

	relay := NewRelay(client, channel, local, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case <-relay.Ready():
	case err := <-done:
		t.Fatalf("relay stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return relay
}

func TestRelay_ForwardsToOtherInstances(t *testing.T) {
	client := setupRedis(t)
	channel := "taskboard:test:" + uuid.NewString()

	var a, b captured
	relayA := startRelay(t, client, channel, &a)
	startRelay(t, client, channel, &b)

	relayA.Publish(9, EventTaskUnlocked, UnlockedPayload{TaskID: 3})

	assert.Equal(t, 1, a.count(9), "local delivery is immediate")
	require.Eventually(t, func() bool { return b.count(9) == 1 }, 2*time.Second, 10*time.Millisecond)

	var msg WebSocketMessage
	b.mu.Lock()
	require.NoError(t, json.Unmarshal(b.messages[9][0], &msg))
	b.mu.Unlock()
	assert.Equal(t, EventTaskUnlocked, msg.Type)
	assert.Equal(t, int64(9), msg.BoardID)

	// Give the echo time to arrive; the origin must skip it.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, a.count(9))
}
