package transaction

import (
	"sync"

	"github.com/ngaut/log"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

// SetExecCmd reassigns this transaction's active command to cid for the
// next statement inside an EXEC/EVAL batch. Callers must follow with
// InitByArgs on the new statement's argument vector; the Multi
// sub-object (and the lock counts it has accumulated so far) survives
// across statements.
func (t *Transaction) SetExecCmd(cid command.ID) {
	if t.multi == nil {
		log.Fatalf("%s: SetExecCmd called on a non-multi transaction", t.DebugID())
	}
	t.cid = cid
	t.args = nil
	t.reverseIndex = nil
	t.shardData = nil
	t.uniqueShardCnt = 0
	t.uniqueShardID = 0
	t.setCoordState(0, CoordExecConcluding|CoordSched|CoordOOO)
	t.cbMu.Lock()
	t.localResult = command.OK
	t.cbMu.Unlock()
}

// UnlockMulti is the multi-statement counterpart to runInShard's
// single-statement release path. It releases every lock count
// accumulated over the batch's statements on the shards that own them,
// releases the coarse shard lock if the batch's first statement was
// global, lets every participating shard's queue advance past whatever
// it was holding back, and detaches the Multi sub-object.
func (t *Transaction) UnlockMulti() {
	if t.multi == nil {
		return
	}

	n := t.shardSet.Size()
	byShard := make(map[engine.ShardID]map[string]*LockCount)
	for key, lc := range t.multi.Locks {
		sid := engine.ShardID(command.Shard(key, n))
		m, ok := byShard[sid]
		if !ok {
			m = make(map[string]*LockCount)
			byShard[sid] = m
		}
		m[key] = lc
	}

	participating := make(map[engine.ShardID]struct{}, len(byShard))
	for sid := range byShard {
		participating[sid] = struct{}{}
	}
	for _, sid := range t.multi.ScheduledShards {
		participating[sid] = struct{}{}
	}

	globalLockHeld := t.multi.GlobalLockHeld
	globalMode := t.multi.GlobalLockMode

	// sdBySid only ever covers the shards the last statement touched -
	// each earlier statement's own Execute already ran runInShard to
	// completion (clearing its PQPos there) before SetExecCmd discarded
	// that PerShardData for the next statement. This lookup is
	// belt-and-suspenders for the last statement's shards, matching the
	// original's unconditional pq_pos check inside UnlockMulti.
	sdBySid := make(map[engine.ShardID]*PerShardData)
	t.eachActiveShard(func(sid engine.ShardID, sd *PerShardData) {
		sdBySid[sid] = sd
	})

	var wg sync.WaitGroup
	for sid := range participating {
		sid := sid
		keys := byShard[sid]
		sd := sdBySid[sid]
		wg.Add(1)
		t.shardSet.Submit(sid, func(shard *engine.EngineShard) {
			defer wg.Done()
			for key, lc := range keys {
				if lc.Shared > 0 {
					shard.Locks.Release(command.Shared, []string{key}, lc.Shared)
				}
				if lc.Exclusive > 0 {
					shard.Locks.Release(command.Exclusive, []string{key}, lc.Exclusive)
				}
			}
			if globalLockHeld {
				shard.Lock.Release(globalMode)
			}
			if sd != nil && sd.PQPos != engine.NoHandle {
				shard.RemoveQueue(sd.PQPos)
				sd.PQPos = engine.NoHandle
			}
			shard.ShutdownMulti(t)
			shard.ProcessAwakened(nil)
		})
	}
	wg.Wait()

	t.multi = nil
}
