package engine

import (
	"sync"

	"github.com/shardkv-io/shardkv/kv/command"
)

// IntentLocks is the per-shard lock manager. Unlike a plain latch (one
// writer at a time, no readers), each key carries independent SHARED and
// EXCLUSIVE holder counts so that read-only commands can run concurrently
// while a write excludes everyone: every key gets a holder count per
// mode, and callers ask for a mode explicitly.
//
// Only the owning shard's worker goroutine ever calls these methods, so
// the map itself needs no synchronization beyond what the caller's
// single-threaded access already provides; the mutex exists only because
// Check/Acquire/Release are also exercised directly by unit tests from
// other goroutines.
type IntentLocks struct {
	mu    sync.Mutex
	held  map[string]*lockCounts
}

type lockCounts struct {
	shared, exclusive int
}

// NewIntentLocks creates an empty per-shard lock table.
func NewIntentLocks() *IntentLocks {
	return &IntentLocks{held: make(map[string]*lockCounts)}
}

// Check reports whether mode could be acquired on every key without
// contending an incompatible holder, without actually acquiring it.
func (l *IntentLocks) Check(mode command.LockMode, keys []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if !l.checkLocked(mode, k) {
			return false
		}
	}
	return true
}

func (l *IntentLocks) checkLocked(mode command.LockMode, key string) bool {
	c, ok := l.held[key]
	if !ok {
		return true
	}
	if mode == command.Shared {
		return c.exclusive == 0
	}
	return c.shared == 0 && c.exclusive == 0
}

// Acquire locks every key in mode, incrementing its holder count.
// Returns uncontended = true iff no prior holder (of either mode)
// existed on any of the keys before this call - i.e. the lock was
// granted for free rather than joining existing holders.
func (l *IntentLocks) Acquire(mode command.LockMode, keys []string) (uncontended bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	uncontended = true
	for _, k := range keys {
		c, ok := l.held[k]
		if !ok {
			c = &lockCounts{}
			l.held[k] = c
		} else if c.shared > 0 || c.exclusive > 0 {
			uncontended = false
		}
		if mode == command.Shared {
			c.shared++
		} else {
			c.exclusive++
		}
	}
	return uncontended
}

// Release gives back count holds of mode on each key (count defaults to
// 1 when omitted via ReleaseOne). Keys left with zero holders in both
// modes are removed from the table.
func (l *IntentLocks) Release(mode command.LockMode, keys []string, count int) {
	if count <= 0 {
		count = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		c, ok := l.held[k]
		if !ok {
			continue
		}
		if mode == command.Shared {
			c.shared -= count
			if c.shared < 0 {
				c.shared = 0
			}
		} else {
			c.exclusive -= count
			if c.exclusive < 0 {
				c.exclusive = 0
			}
		}
		if c.shared == 0 && c.exclusive == 0 {
			delete(l.held, k)
		}
	}
}

// ReleaseOne releases a single hold of mode on each key.
func (l *IntentLocks) ReleaseOne(mode command.LockMode, keys []string) {
	l.Release(mode, keys, 1)
}

// ShardLock is the coarse, shard-wide lock used to serialize global
// transactions (FLUSHDB, SELECT) against all per-key work on the shard.
type ShardLock struct {
	mu     sync.Mutex
	shared int
	excl   bool
}

// Check reports whether mode is currently unheld by an incompatible
// holder, without acquiring it.
func (s *ShardLock) Check(mode command.LockMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == command.Shared {
		return !s.excl
	}
	return !s.excl && s.shared == 0
}

// TryAcquire grants mode immediately if uncontended, or reports failure
// without blocking. A shard's worker goroutine must never block waiting
// on its own future task (the Release this same transaction will submit
// later), so unlike IntentLocks.Acquire this has no blocking counterpart
// - callers that fail a TryAcquire retry the whole scheduling attempt
// with a fresh txid instead.
func (s *ShardLock) TryAcquire(mode command.LockMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == command.Shared {
		if s.excl {
			return false
		}
		s.shared++
		return true
	}
	if s.excl || s.shared > 0 {
		return false
	}
	s.excl = true
	return true
}

// Release gives back a hold of mode.
func (s *ShardLock) Release(mode command.LockMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == command.Shared {
		if s.shared > 0 {
			s.shared--
		}
	} else {
		s.excl = false
	}
}
