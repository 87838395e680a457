package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardIsStableAndWithinRange(t *testing.T) {
	sid := Shard("some-key", 16)
	assert.GreaterOrEqual(t, sid, 0)
	assert.Less(t, sid, 16)
	assert.Equal(t, sid, Shard("some-key", 16), "hashing the same key twice must agree")
}

func TestShardSingleShardAlwaysZero(t *testing.T) {
	assert.Equal(t, 0, Shard("anything", 1))
	assert.Equal(t, 0, Shard("anything", 0))
}

func TestDescriptorDetermineKeysPlainStep(t *testing.T) {
	d := &Descriptor{CmdName: "MGET", Step: 1}
	ki, err := d.DetermineKeys([]string{"MGET", "a", "b", "c"})
	assert.NoError(t, err)
	assert.Equal(t, KeyIndex{Start: 1, End: 4, Step: 1}, ki)
}

func TestDescriptorDetermineKeysStepTwoRejectsOddArgs(t *testing.T) {
	d := &Descriptor{CmdName: "MSET", Step: 2}
	_, err := d.DetermineKeys([]string{"MSET", "a", "1", "b"})
	assert.Error(t, err)
}

func TestDescriptorDetermineKeysGlobalHasNoKeys(t *testing.T) {
	d := &Descriptor{CmdName: "FLUSHDB", Opts: GlobalTrans}
	ki, err := d.DetermineKeys([]string{"FLUSHDB"})
	assert.NoError(t, err)
	assert.True(t, ki.Empty())
}

func TestEvalDescriptorDetermineKeysNumKeys(t *testing.T) {
	d := &EvalDescriptor{CmdName: "EVAL"}
	ki, err := d.DetermineKeys([]string{"EVAL", "script", "2", "k1", "k2", "argv1"})
	assert.NoError(t, err)
	assert.Equal(t, KeyIndex{Start: 3, End: 5, Step: 1}, ki)
}

func TestEvalDescriptorDetermineKeysRejectsOutOfRangeNumKeys(t *testing.T) {
	d := &EvalDescriptor{CmdName: "EVAL"}
	_, err := d.DetermineKeys([]string{"EVAL", "script", "5", "k1"})
	assert.Error(t, err)
}

func TestModeAndIsGlobal(t *testing.T) {
	ro := &Descriptor{CmdName: "GET", Opts: ReadOnly}
	rw := &Descriptor{CmdName: "SET"}
	global := &Descriptor{CmdName: "FLUSHDB", Opts: GlobalTrans}

	assert.Equal(t, Shared, Mode(ro))
	assert.Equal(t, Exclusive, Mode(rw))
	assert.True(t, IsGlobal(global))
	assert.False(t, IsGlobal(rw))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "KEY_NOTFOUND", KeyNotFound.String())
	assert.Equal(t, "WRONG_TYPE", WrongType.String())
}
