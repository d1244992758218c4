package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	return hub
}

// returnsWithin fails the test when fn has not returned after d.
func returnsWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		require.FailNow(t, "call still blocked", "after %v", d)
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := runHub(t)
	defer hub.Stop()

	client := hub.RegisterClient(nil, "alice")
	require.NotNil(t, client)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.UnregisterClient(nil)
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_UnregisterUnknownConnIsNoop(t *testing.T) {
	hub := NewHub()
	returnsWithin(t, 100*time.Millisecond, func() { hub.UnregisterClient(nil) })
	assert.Zero(t, hub.GetClientCount())
}

func TestHub_RegisterAfterStop(t *testing.T) {
	hub := runHub(t)
	hub.Stop()

	var client *Client
	returnsWithin(t, 500*time.Millisecond, func() { client = hub.RegisterClient(nil, "late") })
	assert.Nil(t, client)
	assert.Zero(t, hub.GetClientCount())
}

func TestHub_UnregisterAfterStop(t *testing.T) {
	hub := runHub(t)
	require.NotNil(t, hub.RegisterClient(nil, "bob"))
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Stop()

	returnsWithin(t, 500*time.Millisecond, func() { hub.UnregisterClient(nil) })
	assert.Zero(t, hub.GetClientCount())
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	hub := NewHub()

	for i := 0; i < cap(hub.broadcast); i++ {
		require.True(t, hub.Broadcast(map[string]int{"seq": i}))
	}

	var queued bool
	returnsWithin(t, 100*time.Millisecond, func() { queued = hub.Broadcast(map[string]string{"msg": "overflow"}) })
	assert.False(t, queued)
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}

func TestHub_RoundChanged(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		wantType   string
		wantSecret bool
	}{
		{name: "Open round", status: StatusBettingOpen, wantType: "round_betting_open"},
		{name: "Spinning round", status: StatusSpinning, wantType: "round_spinning"},
		{name: "Finished round", status: StatusFinished, wantType: "round_finished", wantSecret: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub()
			require.NoError(t, hub.RoundChanged(context.Background(), testRound(tt.status)))
			require.Len(t, hub.broadcast, 1)

			m, ok := (<-hub.broadcast).(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.wantType, m["type"])

			p, ok := m["data"].(PublicRound)
			require.True(t, ok)
			assert.Equal(t, tt.wantSecret, p.SecretKey != nil)
		})
	}
}

func TestHub_ConcurrentBroadcastAndCount(t *testing.T) {
	hub := runHub(t)
	defer hub.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			hub.Broadcast(map[string]int{"seq": n})
		}(i)
		go func() {
			defer wg.Done()
			_ = hub.GetClientCount()
		}()
	}

	returnsWithin(t, time.Second, wg.Wait)
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	message := map[string]interface{}{"type": "round_spinning"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(message)
	}
}
