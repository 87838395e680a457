package transaction

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

func TestExecuteNonConcludingHopKeepsLockHeld(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	tx := New(ss, setCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"SET", "key", "v1"}))
	tx.Schedule()

	var ran bool
	tx.Execute(func(t *Transaction, shard *engine.EngineShard) command.Status {
		ran = true
		return command.OK
	}, false)
	assert.True(t, ran)

	shard := ss.Shard(tx.uniqueShardID)
	assert.False(t, shard.Locks.Check(command.Exclusive, []string{"key"}), "a non-concluding hop must not release the lock it scheduled with")

	tx.Execute(func(t *Transaction, shard *engine.EngineShard) command.Status {
		return command.OK
	}, true)
	assert.True(t, shard.Locks.Check(command.Exclusive, []string{"key"}), "the concluding hop releases the lock")
}

func TestExecuteRunsOnEveryParticipatingShard(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	tx := New(ss, msetCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"MSET", "a", "1", "b", "2", "c", "3", "d", "4"}))
	tx.Schedule()

	var ran int32
	tx.Execute(func(t *Transaction, shard *engine.EngineShard) command.Status {
		atomic.AddInt32(&ran, 1)
		return command.OK
	}, true)

	assert.EqualValues(t, tx.uniqueShardCnt, atomic.LoadInt32(&ran))
}

func TestUseCountReturnsToInitialReferenceAfterExecute(t *testing.T) {
	ss := newTestShardSet(4)
	defer ss.Close()

	tx := New(ss, setCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"SET", "key", "v1"}))
	tx.Schedule()

	tx.Execute(func(t *Transaction, shard *engine.EngineShard) command.Status {
		return command.OK
	}, true)

	assert.Equal(t, int64(1), tx.UseCount(), "UseCount carries the constructor's initial reference plus zero outstanding callbacks")
	assert.Equal(t, int64(0), tx.RunCount())
}
