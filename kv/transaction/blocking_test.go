package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv-io/shardkv/kv/command"
)

func TestWaitOnWatchWakesOnNotifyAndConverges(t *testing.T) {
	ss := newTestShardSet(1)
	defer ss.Close()

	tx := New(ss, getCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"GET", "key"}))

	shard := ss.Shard(tx.uniqueShardID)
	tx.AddToWatchedShardCb(shard)

	resultCh := make(chan command.Status, 1)
	go func() {
		resultCh <- tx.WaitOnWatch(time.Now().Add(2 * time.Second))
	}()

	// Give the waiter goroutine a chance to park on the wake channel
	// before the notify below fires, so the test exercises the genuine
	// wake path instead of racing a buffered send against a reader that
	// hasn't subscribed yet.
	time.Sleep(20 * time.Millisecond)

	shard.Commit(5, []string{"key"})

	select {
	case status := <-resultCh:
		assert.Equal(t, command.OK, status)
	case <-time.After(time.Second):
		t.Fatal("WaitOnWatch never returned")
	}
}

func TestWaitOnWatchTimesOutAndReleasesWatch(t *testing.T) {
	ss := newTestShardSet(1)
	defer ss.Close()

	tx := New(ss, getCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"GET", "key"}))

	shard := ss.Shard(tx.uniqueShardID)
	tx.AddToWatchedShardCb(shard)

	status := tx.WaitOnWatch(time.Now().Add(20 * time.Millisecond))
	assert.Equal(t, command.TimedOut, status)

	// ExpireBlocking already cleared SuspendedQ and unregistered the
	// watch, so a notification arriving after the timeout must find this
	// transaction no longer listening.
	assert.False(t, tx.NotifySuspended(1, uint32(shard.ID())))
}

func TestBreakOnCloseCancelsAWaitingTransaction(t *testing.T) {
	ss := newTestShardSet(1)
	defer ss.Close()

	tx := New(ss, getCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"GET", "key"}))

	shard := ss.Shard(tx.uniqueShardID)
	tx.AddToWatchedShardCb(shard)

	resultCh := make(chan command.Status, 1)
	go func() {
		resultCh <- tx.WaitOnWatch(time.Now().Add(2 * time.Second))
	}()

	time.Sleep(20 * time.Millisecond)
	tx.BreakOnClose()

	select {
	case status := <-resultCh:
		assert.Equal(t, command.Cancelled, status)
	case <-time.After(time.Second):
		t.Fatal("WaitOnWatch never returned after BreakOnClose")
	}
}
