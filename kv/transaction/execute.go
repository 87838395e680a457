package transaction

import (
	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

// Execute installs cb as the transaction's current-hop callback and fans
// it out to every participating shard, conclude marks
// whether this is the transaction's final hop (EXEC_CONCLUDING).
func (t *Transaction) Execute(cb Callback, conclude bool) {
	t.cbMu.Lock()
	t.cb = cb
	t.cbMu.Unlock()

	t.setCoordState(CoordExec, 0)
	if conclude {
		t.setCoordState(CoordExecConcluding, 0)
	} else {
		t.setCoordState(0, CoordExecConcluding)
	}

	t.executeAsync()
	t.waitHop()

	t.cbMu.Lock()
	t.cb = nil
	t.cbMu.Unlock()
}

// executeAsync arms every participating shard and submits one task per
// shard that polls execution. A shard's worker may already have run
// this hop eagerly - via PollExecution triggered from an unrelated
// commit's ProcessAwakened on the same shard - by the time our own
// submitted task runs; Armed being clear by then means someone else
// already did the work, so we only tear down the hop barrier.
func (t *Transaction) executeAsync() {
	n := t.uniqueShardCnt
	t.useCount.Add(int64(n))

	isGlobal := t.IsGlobal()

	t.eachActiveShard(func(_ engine.ShardID, sd *PerShardData) {
		sd.LocalMask |= Armed
	})

	t.armHop(n)

	submit := func(sid engine.ShardID) {
		t.shardSet.Submit(sid, func(shard *engine.EngineShard) {
			idx := t.shardIdx(shard.ID())
			if t.shardData[idx].LocalMask&Armed != 0 {
				shard.PollExecution("exec_cb", t)
			} else {
				t.runNoop(shard)
			}
			t.releaseUse()
		})
	}

	if !isGlobal && t.uniqueShardCnt == 1 {
		submit(t.uniqueShardID)
	} else {
		t.eachActiveShard(func(sid engine.ShardID, _ *PerShardData) {
			submit(sid)
		})
	}
}

// releaseUse drops one reference acquired by executeAsync's use_count
// bump. Go's garbage collector - not manual refcounting - actually keeps
// Transaction alive; use_count is tracked only so outstanding shard
// callbacks remain checkable by tests.
func (t *Transaction) releaseUse() {
	t.useCount.Dec()
}

// UseCount reports the current lifetime reference count, for tests.
func (t *Transaction) UseCount() int64 { return t.useCount.Load() }

// RunCount reports the number of shard callbacks still outstanding for
// the current hop.
func (t *Transaction) RunCount() int64 { return t.runCount.Load() }

// TryRun implements engine.Pollable: it is called by EngineShard to try
// running this transaction's current hop on shard. It returns false
// (without side effects) when the hop isn't armed yet, or when the
// transaction must wait its turn behind an earlier, non-OOO queue entry.
func (t *Transaction) TryRun(shard *engine.EngineShard) bool {
	idx := t.shardIdx(shard.ID())
	sd := t.shardData[idx]

	if sd.LocalMask&Armed == 0 {
		return false
	}

	if sd.PQPos != engine.NoHandle && sd.LocalMask&OutOfOrder == 0 {
		front := shard.TxQueue().Front()
		if front == nil || front.TxID() != t.TxID() {
			return false
		}
	}

	t.runInShard(shard)
	return true
}

// runInShard invokes the hop's callback on shard and, for a concluding
// non-multi hop, releases the locks this transaction held.
func (t *Transaction) runInShard(shard *engine.EngineShard) {
	idx := t.shardIdx(shard.ID())
	sd := t.shardData[idx]

	sd.LocalMask &^= Armed

	awakedPrerun := sd.LocalMask&AwakedQ != 0
	incrementalLock := t.multi != nil && t.multi.Incremental
	shouldRelease := t.hasCoordState(CoordExecConcluding) && t.multi == nil
	mode := t.Mode()

	if incrementalLock && sd.LocalMask&KeylockAcquired == 0 {
		sd.LocalMask |= KeylockAcquired
		shard.Locks.Acquire(mode, t.GetLockArgs(shard.ID()))
	}

	t.cbMu.Lock()
	cb := t.cb
	t.cbMu.Unlock()

	status := cb(t, shard)

	if t.uniqueShardCnt == 1 {
		t.cbMu.Lock()
		t.cb = nil
		t.localResult = status
		t.cbMu.Unlock()
	}

	if sd.PQPos != engine.NoHandle {
		shard.RemoveQueue(sd.PQPos)
		sd.PQPos = engine.NoHandle
	}

	if shouldRelease {
		isSuspended := sd.LocalMask&SuspendedQ != 0

		if t.IsGlobal() {
			shard.Lock.Release(mode)
		} else {
			if !isSuspended {
				shard.Locks.ReleaseOne(mode, t.GetLockArgs(shard.ID()))
				sd.LocalMask &^= KeylockAcquired
			}
			sd.LocalMask &^= OutOfOrder

			if awakedPrerun {
				shard.ProcessAwakened(t)
			} else {
				shard.ProcessAwakened(nil)
			}
		}
	}

	t.hopDone()
	// t may be destroyed by the coordinator as soon as hopDone observes
	// the last outstanding callback; no field access after this line.
}

// runNoop tidies up a shard slot without invoking the user callback.
// ExpireBlocking calls it to release provisional locks on a deadline
// while the slot is still genuinely armed. executeAsync calls it after
// finding the slot already disarmed - some other trigger on the same
// shard beat our submitted task to running this hop via TryRun - in
// which case the early Armed-clear check below makes it a pure hop
// barrier release.
func (t *Transaction) runNoop(shard *engine.EngineShard) {
	idx := t.shardIdx(shard.ID())
	sd := t.shardData[idx]

	if sd.LocalMask&Armed == 0 {
		t.hopDone()
		return
	}
	sd.LocalMask &^= Armed

	if t.uniqueShardCnt == 1 {
		t.cbMu.Lock()
		t.cb = nil
		t.localResult = command.OK
		t.cbMu.Unlock()
	}

	if t.hasCoordState(CoordExecConcluding) && !t.IsGlobal() {
		lockArgs := t.GetLockArgs(shard.ID())
		shard.Locks.ReleaseOne(t.Mode(), lockArgs)
		sd.LocalMask &^= KeylockAcquired

		if sd.LocalMask&SuspendedQ != 0 {
			sd.LocalMask |= ExpiredQ
			shard.Watch.GC(lockArgs)
		}
	}

	t.hopDone()
}
