package transaction

import (
	"sync"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

// eachActiveShard invokes fn for every shard this transaction
// participates in: the single slot for the single-shard fast path, or
// every shard with arg_count > 0 (all of them, for global transactions).
func (t *Transaction) eachActiveShard(fn func(sid engine.ShardID, sd *PerShardData)) {
	if t.uniqueShardCnt == 1 && len(t.shardData) == 1 {
		fn(t.uniqueShardID, t.shardData[0])
		return
	}
	for i, sd := range t.shardData {
		if !t.IsGlobal() && sd.ArgCount == 0 {
			continue
		}
		fn(engine.ShardID(i), sd)
	}
}

// armHop resets the per-hop completion barrier for n participating
// shards. It replaces the atomic run_count + condition-variable pairing
// with a plain sync.WaitGroup, which is the idiomatic Go
// expression of the same barrier: "wait until exactly n shard callbacks
// have reported done".
func (t *Transaction) armHop(n int) {
	wg := &sync.WaitGroup{}
	wg.Add(n)
	t.hopMu.Lock()
	t.hopWG = wg
	t.hopMu.Unlock()
	t.runCount.Store(int64(n))
}

// hopDone marks one shard's contribution to the current hop as finished.
func (t *Transaction) hopDone() {
	t.hopMu.Lock()
	wg := t.hopWG
	t.hopMu.Unlock()
	t.runCount.Dec()
	wg.Done()
}

// waitHop blocks until every shard armed for the current hop has called
// hopDone.
func (t *Transaction) waitHop() {
	t.hopMu.Lock()
	wg := t.hopWG
	t.hopMu.Unlock()
	wg.Wait()
}

// Schedule schedules a multi-statement batch's outer transaction exactly
// once, the first time any inner statement needs it.
func (t *Transaction) Schedule() {
	if t.TxID() != 0 {
		return
	}
	t.scheduleInternal()
}

// scheduleInternal retries with a fresh txid until every participating
// shard accepts the scheduling attempt.
func (t *Transaction) scheduleInternal() {
	spanAll := t.IsGlobal()
	singleHop := t.hasCoordState(CoordExecConcluding)

	var numShards int
	var isActive func(engine.ShardID) bool

	if spanAll {
		numShards = t.shardSet.Size()
		isActive = func(engine.ShardID) bool { return true }
	} else {
		numShards = t.uniqueShardCnt
		isActive = t.shardActive
	}

	for {
		t.txID.Store(nextTxID())

		var mu sync.Mutex
		var successCnt, lockGrantedCnt int
		var scheduled []engine.ShardID

		t.shardSet.Broadcast(func(shard *engine.EngineShard) {
			ok, granted := t.scheduleInShard(shard)
			mu.Lock()
			if ok {
				successCnt++
				scheduled = append(scheduled, shard.ID())
			}
			if granted {
				lockGrantedCnt++
			}
			mu.Unlock()
		}, isActive)

		if successCnt == numShards {
			if singleHop && lockGrantedCnt == numShards {
				t.setCoordState(CoordOOO, 0)
			}
			t.setCoordState(CoordSched, 0)
			if t.multi != nil {
				t.multi.ScheduledShards = scheduled
				if spanAll {
					t.multi.GlobalLockHeld = true
					t.multi.GlobalLockMode = t.Mode()
				}
			}
			break
		}

		t.shardSet.Broadcast(func(shard *engine.EngineShard) {
			t.cancelInShard(shard)
		}, isActive)
	}

	if t.hasCoordState(CoordOOO) {
		t.eachActiveShard(func(sid engine.ShardID, sd *PerShardData) {
			sd.LocalMask |= OutOfOrder
			t.shardSet.Shard(sid).IncOOOGranted()
		})
	}
}

// scheduleInShard attempts to admit t onto shard's TxQueue at its current
// txid. Runs on shard's worker goroutine.
func (t *Transaction) scheduleInShard(shard *engine.EngineShard) (success, lockGranted bool) {
	if shard.CommittedTxID() >= t.TxID() {
		return false, false
	}

	idx := t.shardIdx(shard.ID())
	sd := t.shardData[idx]
	mode := t.Mode()

	if t.IsGlobal() {
		// A shard worker must never block inside a task closure waiting
		// on another task queued behind it on the same channel (the
		// Release this same transaction, or a competing one, would
		// submit later) - so a contended shard-wide lock is reported as
		// an ordinary scheduling failure and retried with a fresh txid,
		// exactly like a contended per-key lock below.
		if !shard.Lock.TryAcquire(mode) {
			return false, false
		}
		sd.LocalMask |= KeylockAcquired
	} else {
		shardUnlocked := shard.Lock.Check(mode)
		lockArgs := t.GetLockArgs(shard.ID())
		uncontended := shard.Locks.Acquire(mode, lockArgs)
		lockGranted = uncontended && shardUnlocked
		sd.LocalMask |= KeylockAcquired
	}

	if !shard.TxQueue().Empty() {
		toProceed := lockGranted || shard.TxQueue().TailScore() < t.TxID()
		if !toProceed {
			t.releaseScheduleLock(shard, sd, mode)
			return false, false
		}
	}

	sd.PQPos = shard.InsertQueue(t)
	return true, lockGranted
}

// releaseScheduleLock reverses whatever scheduleInShard granted (the
// shard-wide lock for a global transaction, or the per-key intent lock
// otherwise), if anything.
func (t *Transaction) releaseScheduleLock(shard *engine.EngineShard, sd *PerShardData, mode command.LockMode) {
	if sd.LocalMask&KeylockAcquired == 0 {
		return
	}
	if t.IsGlobal() {
		shard.Lock.Release(mode)
	} else {
		shard.Locks.ReleaseOne(mode, t.GetLockArgs(shard.ID()))
	}
	sd.LocalMask &^= KeylockAcquired
}

// cancelInShard reverses a scheduleInShard attempt that must be retried
// with a fresh txid.
func (t *Transaction) cancelInShard(shard *engine.EngineShard) bool {
	idx := t.shardIdx(shard.ID())
	sd := t.shardData[idx]

	if sd.PQPos == engine.NoHandle {
		t.releaseScheduleLock(shard, sd, t.Mode())
		return false
	}
	shard.RemoveQueue(sd.PQPos)
	sd.PQPos = engine.NoHandle
	t.releaseScheduleLock(shard, sd, t.Mode())
	return true
}

// ScheduleSingleHop is the common one-shot entry point for single-hop
// commands like SET/MGET. It installs cb, schedules (or
// takes the single-shard quickie fast path), runs the hop, and returns
// the command's result.
func (t *Transaction) ScheduleSingleHop(cb Callback) command.Status {
	t.cbMu.Lock()
	t.cb = cb
	t.cbMu.Unlock()

	t.setCoordState(CoordExec|CoordExecConcluding, 0)

	scheduleFast := t.uniqueShardCnt == 1 && !t.IsGlobal() && t.multi == nil

	if scheduleFast {
		sd := t.shardData[0]
		sd.LocalMask |= Armed
		t.armHop(1)

		t.shardSet.Submit(t.uniqueShardID, func(shard *engine.EngineShard) {
			runEager := t.scheduleUniqueShard(shard)
			if runEager {
				t.hopDone()
			}
		})
	} else {
		if t.multi == nil {
			t.scheduleInternal()
		}
		t.executeAsync()
	}

	t.waitHop()

	t.cbMu.Lock()
	result := t.localResult
	t.cb = nil
	t.cbMu.Unlock()
	return result
}

// scheduleUniqueShard attempts the uncontended quickie path, falling
// back to txid allocation and queueing when the keys are already
// locked.
func (t *Transaction) scheduleUniqueShard(shard *engine.EngineShard) (ranEagerly bool) {
	mode := t.Mode()
	lockArgs := t.GetLockArgs(shard.ID())
	sd := t.shardData[0]

	if shard.Locks.Check(mode, lockArgs) {
		t.runQuickie(shard)
		return true
	}

	t.txID.Store(nextTxID())
	sd.PQPos = shard.InsertQueue(t)

	shard.Locks.Acquire(mode, lockArgs)
	sd.LocalMask |= KeylockAcquired

	shard.PollExecution("schedule_unique", nil)
	return false
}

// runQuickie runs the callback inline with no txid and no queue entry,
// for uncontended single-key commands.
func (t *Transaction) runQuickie(shard *engine.EngineShard) {
	shard.IncQuickRun()
	sd := t.shardData[0]

	t.cbMu.Lock()
	cb := t.cb
	t.cbMu.Unlock()

	status := cb(t, shard)

	t.cbMu.Lock()
	t.localResult = status
	t.cb = nil
	t.cbMu.Unlock()

	sd.LocalMask &^= Armed
}
