package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

// AddToWatchedShardCb registers this transaction against every key it
// holds on shard. Called from inside a blocking command's callback
// (BLPOP and friends) once it determines its keys aren't ready yet.
func (t *Transaction) AddToWatchedShardCb(shard *engine.EngineShard) {
	idx := t.shardIdx(shard.ID())
	sd := t.shardData[idx]
	if sd.LocalMask&SuspendedQ != 0 {
		return
	}
	sd.LocalMask |= SuspendedQ
	for _, key := range t.GetLockArgs(shard.ID()) {
		shard.Watch.Add(key, t)
	}
	shard.ObserveBlocked(1)
}

// RemoveFromWatchedShardCb unregisters this transaction from shard's
// watch registry, whether the slot is still suspended or was already
// woken by a notification. ExpireBlocking and UnregisterWatch call it.
func (t *Transaction) RemoveFromWatchedShardCb(shard *engine.EngineShard) {
	idx := t.shardIdx(shard.ID())
	sd := t.shardData[idx]
	if sd.LocalMask&(SuspendedQ|AwakedQ) == 0 {
		return
	}
	sd.LocalMask &^= SuspendedQ | AwakedQ
	for _, key := range t.GetLockArgs(shard.ID()) {
		shard.Watch.Remove(key, t)
	}
	shard.ObserveBlocked(-1)
}

// UnregisterWatch removes this transaction's watch registration from
// every participating shard without running a release hop. Used when a
// blocking command's keys turn out to be ready before WaitOnWatch is
// ever called.
func (t *Transaction) UnregisterWatch() {
	t.eachActiveShard(func(sid engine.ShardID, _ *PerShardData) {
		t.shardSet.Submit(sid, func(shard *engine.EngineShard) {
			t.RemoveFromWatchedShardCb(shard)
		})
	})
}

// NotifySuspended implements engine.Watchable. A shard's WatchRegistry
// calls this on every transaction suspended against a key right after a
// mutation against that key commits. It returns true the first time it
// wakes this transaction; a transaction whose watch already expired (or
// that was never suspended on shardID) ignores the call.
func (t *Transaction) NotifySuspended(committedTxID uint64, shardID uint32) bool {
	idx := t.shardIdx(engine.ShardID(shardID))
	sd := t.shardData[idx]

	if sd.LocalMask&ExpiredQ != 0 {
		return false
	}

	if sd.LocalMask&SuspendedQ != 0 {
		sd.LocalMask &^= SuspendedQ
		sd.LocalMask |= AwakedQ

		for {
			notifyID := t.notifyTxID.Load()
			if committedTxID >= notifyID {
				break
			}
			if t.notifyTxID.CAS(notifyID, committedTxID) {
				select {
				case t.wake <- struct{}{}:
				default:
				}
				break
			}
		}
		return true
	}

	return sd.LocalMask&AwakedQ != 0
}

// BreakOnClose cancels a blocking wait because the issuing client's
// connection closed. Safe to call concurrently with a genuine wake-up;
// whichever of the two reaches the wake channel first decides the
// outcome WaitOnWatch reports.
func (t *Transaction) BreakOnClose() {
	t.setCoordState(CoordCancelled, 0)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// ExpireBlocking runs when a blocking wait's deadline elapses: it drops
// every watch registration and runs a final no-op hop on each
// participating shard so provisional locks are released cleanly.
func (t *Transaction) ExpireBlocking() {
	t.setCoordState(CoordExecConcluding, 0)
	n := t.uniqueShardCnt
	t.armHop(n)
	t.eachActiveShard(func(sid engine.ShardID, sd *PerShardData) {
		sd.LocalMask |= Armed
		t.shardSet.Submit(sid, func(shard *engine.EngineShard) {
			t.RemoveFromWatchedShardCb(shard)
			t.runNoop(shard)
		})
	})
	t.waitHop()
}

// WaitOnWatch blocks the calling coordinator goroutine until a watched
// key is mutated and every participating shard's state has converged up
// to the notifying shard's committed_txid, the wait is cancelled via
// BreakOnClose, or deadline elapses. This is the suspension point behind
// blocking commands.
func (t *Transaction) WaitOnWatch(deadline time.Time) command.Status {
	t.setCoordState(CoordBlocked, 0)
	defer t.setCoordState(0, CoordBlocked)

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	select {
	case <-t.wake:
	case <-ctx.Done():
		t.ExpireBlocking()
		return command.TimedOut
	}

	if t.hasCoordState(CoordCancelled) {
		return command.Cancelled
	}

	notify := t.notifyTxID.Load()
	if notify == sentinelNotify {
		return command.OK
	}

	var wg sync.WaitGroup
	t.eachActiveShard(func(sid engine.ShardID, _ *PerShardData) {
		wg.Add(1)
		shard := t.shardSet.Shard(sid)
		shard.WaitForConvergence(notify, wg.Done)
	})
	wg.Wait()

	return command.OK
}
