package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("u1|dig")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("u1|dig")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(30 * time.Millisecond):
	}

	other := k.Lock("u2|dig")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
	require.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestKeyedMutexUnlockIsIdempotent(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("a")
	unlock()
	unlock()
	require.Zero(t, k.size())

	again := k.Lock("a")
	again()
}

func TestTimerKeys(t *testing.T) {
	require.Equal(t, "e1", completionKey("e1"))
	require.Equal(t, "cooldown_e1", cooldownKey("e1"))
	require.Equal(t, "reminder_e1_final", reminderKey("e1", "final"))
	require.Equal(t, "e1", executionIDFromCooldownKey("cooldown_e1"))
	require.Equal(t, "e1", executionIDFromCooldownKey("e1"))
	require.Equal(t, "GLOBAL:g1|boss", lockKey("GLOBAL:g1", "boss"))
}
