package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shardkv-io/shardkv/kv/command"
)

func TestStoreGetSetDel(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Set("a", "1")
	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	assert.True(t, s.Del("a"))
	assert.False(t, s.Del("a"), "deleting an absent key reports false")
}

func TestStoreFindFirstPicksEarliestPresentKey(t *testing.T) {
	s := NewStore()
	s.Set("b", "vb")

	value, idx, status := s.FindFirst([]string{"a", "b", "c"})
	assert.Equal(t, command.OK, status)
	assert.Equal(t, "vb", value)
	assert.Equal(t, 1, idx)
}

func TestStoreFindFirstReportsKeyNotFound(t *testing.T) {
	s := NewStore()

	_, _, status := s.FindFirst([]string{"a", "b"})
	assert.Equal(t, command.KeyNotFound, status)
}
