package engine

import (
	"sync"
	"time"
)

// DefaultConvergencePollInterval is used when NewShardSet's caller
// passes a non-positive interval.
const DefaultConvergencePollInterval = 2 * time.Millisecond

// ShardSet owns a fixed array of shards, each driven by its own worker
// goroutine consuming a task channel: one goroutine per keyspace
// partition, so shard-local state never needs its own lock.
type ShardSet struct {
	shards  []*EngineShard
	wg      sync.WaitGroup
	closeCh chan struct{}
}

// NewShardSet creates n shards and starts their worker goroutines.
// convergencePollInterval paces each shard's convergence sweeper (see
// EngineShard.sweepConverge); a non-positive value falls back to
// DefaultConvergencePollInterval.
func NewShardSet(n int, convergencePollInterval time.Duration) *ShardSet {
	if convergencePollInterval <= 0 {
		convergencePollInterval = DefaultConvergencePollInterval
	}
	ss := &ShardSet{
		shards:  make([]*EngineShard, n),
		closeCh: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		ss.shards[i] = newEngineShard(ShardID(i), 4096)
	}
	ss.wg.Add(n)
	for i := 0; i < n; i++ {
		go ss.runWorker(ss.shards[i], convergencePollInterval)
	}
	return ss
}

func (ss *ShardSet) runWorker(shard *EngineShard, pollInterval time.Duration) {
	defer ss.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ss.closeCh:
			return
		case task := <-shard.tasks:
			task(shard)
		case <-ticker.C:
			shard.sweepConverge()
		}
	}
}

// Size returns the number of shards.
func (ss *ShardSet) Size() int { return len(ss.shards) }

// Shard returns the shard at index sid. Only safe to dereference shard
// state from within a task submitted to that shard (or from a test,
// before any worker is contending for it).
func (ss *ShardSet) Shard(sid ShardID) *EngineShard { return ss.shards[sid] }

// Submit enqueues task on shard sid's single worker. task runs strictly
// after every task submitted earlier to the same shard, and strictly
// before any submitted later - the happens-before ordering the
// coordinator relies on between its own writes and shard-side reads.
func (ss *ShardSet) Submit(sid ShardID, task func(*EngineShard)) {
	ss.shards[sid].tasks <- task
}

// Broadcast submits task to every shard for which predicate(sid) is true
// (or every shard, if predicate is nil), and blocks until all of them
// have run it.
func (ss *ShardSet) Broadcast(task func(*EngineShard), predicate func(ShardID) bool) {
	var wg sync.WaitGroup
	for i := range ss.shards {
		sid := ShardID(i)
		if predicate != nil && !predicate(sid) {
			continue
		}
		wg.Add(1)
		ss.Submit(sid, func(shard *EngineShard) {
			defer wg.Done()
			task(shard)
		})
	}
	wg.Wait()
}

// Close stops every shard worker. Pending tasks already in a shard's
// channel are dropped.
func (ss *ShardSet) Close() {
	close(ss.closeCh)
	ss.wg.Wait()
}
