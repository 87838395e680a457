package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

func runSet(t *testing.T, ss *engine.ShardSet, key, value string) command.Status {
	tx := New(ss, setCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"SET", key, value}))
	return tx.ScheduleSingleHop(func(t *Transaction, shard *engine.EngineShard) command.Status {
		shard.Store.Set(key, value)
		return command.OK
	})
}

func runGet(t *testing.T, ss *engine.ShardSet, key string) (string, command.Status) {
	tx := New(ss, getCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"GET", key}))
	var got string
	status := tx.ScheduleSingleHop(func(t *Transaction, shard *engine.EngineShard) command.Status {
		v, ok := shard.Store.Get(key)
		if !ok {
			return command.KeyNotFound
		}
		got = v
		return command.OK
	})
	return got, status
}

func TestScheduleSingleHopUncontendedTakesQuickiePath(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	status := runSet(t, ss, "foo", "bar")
	assert.Equal(t, command.OK, status)

	shard := ss.Shard(engine.ShardID(command.Shard("foo", ss.Size())))
	assert.Equal(t, uint64(1), shard.QuickRuns(), "an uncontended single-key SET takes the lock-free quickie path")
}

func TestScheduleSingleHopRoundTripsSetThenGet(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	status := runSet(t, ss, "foo", "bar")
	require.Equal(t, command.OK, status)

	value, status := runGet(t, ss, "foo")
	require.Equal(t, command.OK, status)
	assert.Equal(t, "bar", value)
}

func TestScheduleSingleHopGetOnMissingKeyReturnsKeyNotFound(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	_, status := runGet(t, ss, "missing")
	assert.Equal(t, command.KeyNotFound, status)
}

func TestScheduleSingleHopGlobalCommandRunsOnEveryShard(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	for i := 0; i < 4; i++ {
		runSet(t, ss, string(rune('a'+i)), "v")
	}

	tx := New(ss, flushdbCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"FLUSHDB"}))

	touched := make([]bool, 4)
	status := tx.ScheduleSingleHop(func(t *Transaction, shard *engine.EngineShard) command.Status {
		touched[shard.ID()] = true
		return command.OK
	})

	require.Equal(t, command.OK, status)
	for i, ok := range touched {
		assert.True(t, ok, "shard %d was not visited by the global transaction", i)
	}
}

func TestScheduleSingleHopSequentialWritesOnSameKeyBothSucceed(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	require.Equal(t, command.OK, runSet(t, ss, "key", "v1"))
	require.Equal(t, command.OK, runSet(t, ss, "key", "v2"))

	value, status := runGet(t, ss, "key")
	require.Equal(t, command.OK, status)
	assert.Equal(t, "v2", value)
}
