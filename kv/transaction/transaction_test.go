package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

func newTestShardSet(n int) *engine.ShardSet {
	return engine.NewShardSet(n, time.Millisecond)
}

var (
	setCmd     = &command.Descriptor{CmdName: "SET", Step: 2}
	getCmd     = &command.Descriptor{CmdName: "GET", Opts: command.ReadOnly, Step: 1}
	msetCmd    = &command.Descriptor{CmdName: "MSET", Step: 2}
	flushdbCmd = &command.Descriptor{CmdName: "FLUSHDB", Opts: command.GlobalTrans}
	pingCmd    = &command.Descriptor{CmdName: "PING", Opts: command.NoKeyTransactional}
)

func TestInitByArgsSingleKeyTakesFastPath(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	tx := New(ss, setCmd, 0)
	err := tx.InitByArgs([]string{"SET", "foo", "bar"})
	require.NoError(t, err)

	assert.Equal(t, 1, tx.uniqueShardCnt)
	assert.Len(t, tx.shardData, 1)
	assert.Equal(t, []string{"foo", "bar"}, tx.args)
}

func TestInitByArgsGlobalCommandSpansEveryShard(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	tx := New(ss, flushdbCmd, 0)
	err := tx.InitByArgs([]string{"FLUSHDB"})
	require.NoError(t, err)

	assert.Equal(t, 8, tx.uniqueShardCnt)
	assert.Len(t, tx.shardData, 8)
	assert.True(t, tx.IsGlobal())
}

func TestInitByArgsNoKeyCommandResolvesZeroShards(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	tx := New(ss, pingCmd, 0)
	err := tx.InitByArgs([]string{"PING"})
	require.NoError(t, err)

	assert.Equal(t, 0, tx.uniqueShardCnt)
}

func TestInitByArgsMultiKeyClassifiesByShard(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	tx := New(ss, msetCmd, 0)
	err := tx.InitByArgs([]string{"MSET", "a", "1", "b", "2", "c", "3"})
	require.NoError(t, err)

	total := 0
	for _, sd := range tx.shardData {
		total += sd.ArgCount
	}
	assert.Equal(t, 6, total, "every key/value pair must land in exactly one shard's slice")
}

func TestInitByArgsRejectsTooFewArguments(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	tx := New(ss, setCmd, 0)
	err := tx.InitByArgs([]string{"SET"})
	assert.Error(t, err)
}

func TestReverseArgIndexSingleShardFastPathIsIdentity(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	tx := New(ss, setCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"SET", "foo", "bar"}))

	assert.Equal(t, 3, tx.ReverseArgIndex(tx.uniqueShardID, 3))
}

func TestReverseArgIndexMultiKeyCollapsedToOneShardIsIdentity(t *testing.T) {
	ss := newTestShardSet(1)
	defer ss.Close()

	tx := New(ss, msetCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"MSET", "a", "1", "b", "2", "c", "3"}))
	require.Equal(t, 1, tx.uniqueShardCnt)
	require.NotNil(t, tx.reverseIndex, "the multi-key branch always builds reverseIndex, even when every key collapses onto one shard")

	// ReverseArgIndex short-circuits to identity whenever uniqueShardCnt
	// == 1, without consulting reverseIndex: the lone active shard holds
	// every key/value pair the command touched, in original order
	// starting at ArgStart 0, so the lookup would land on the same index
	// either way, and InitByArgs stamps this collapsed shard's ArgStart
	// with a sentinel that reverseIndex can't be indexed by directly.
	for j := 0; j < len(tx.args); j++ {
		assert.Equal(t, j, tx.ReverseArgIndex(tx.uniqueShardID, j))
	}
}

func TestMultiObjectAttachedForExecEvalEvalsha(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	execCmd := &command.Descriptor{CmdName: "EXEC"}
	tx := New(ss, execCmd, 0)
	assert.NotNil(t, tx.multi)
	assert.True(t, tx.multi.Incremental)

	for _, name := range []string{"EVAL", "EVALSHA"} {
		tx := New(ss, &command.EvalDescriptor{CmdName: name}, 0)
		assert.NotNil(t, tx.multi, name)
		assert.False(t, tx.multi.Incremental, name)
	}
}

func TestDebugIDIncludesNameAndTxID(t *testing.T) {
	ss := newTestShardSet(8)
	defer ss.Close()

	tx := New(ss, setCmd, 0)
	require.NoError(t, tx.InitByArgs([]string{"SET", "foo", "bar"}))
	assert.Equal(t, "SET@0", tx.DebugID())
}
