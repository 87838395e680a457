package transaction

import (
	"math"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
)

// opSeq is the single process-wide monotonic txid counter. It is the
// only global mutable state this package needs; txids start at 1.
var opSeq = atomic.NewUint64(0)

func nextTxID() uint64 {
	return opSeq.Inc()
}

// sentinelNotify is the "not yet notified" value for notify_txid.
const sentinelNotify = math.MaxUint64

// argSentinel marks PerShardData.ArgStart/ArgCount as "use the whole args
// slice" for the single-shard fast path.
const argSentinel = -1

// LocalFlag is the per-shard-slot bitset.
type LocalFlag uint16

const (
	Armed LocalFlag = 1 << iota
	OutOfOrder
	KeylockAcquired
	SuspendedQ
	AwakedQ
	ExpiredQ
)

// CoordFlag is the coordinator_state bitset.
type CoordFlag uint32

const (
	CoordSched CoordFlag = 1 << iota
	CoordExec
	CoordExecConcluding
	CoordOOO
	CoordBlocked
	CoordCancelled
)

// Callback is the per-hop closure the command dispatcher supplies to
// Execute/ScheduleSingleHop. It must be safe to invoke on a shard's
// worker goroutine and must not retain references to coordinator-stack
// data.
type Callback func(t *Transaction, shard *engine.EngineShard) command.Status

// PerShardData is the per-participating-shard runtime slot. All
// mutations happen on the owning shard's worker goroutine; the
// coordinator only reads a slot's fields after the ShardSet barrier
// (Submit/Broadcast) that makes those writes visible.
type PerShardData struct {
	ArgStart, ArgCount int
	PQPos              uint64
	LocalMask          LocalFlag
}

func newPerShardData() *PerShardData {
	return &PerShardData{ArgStart: argSentinel, ArgCount: argSentinel, PQPos: engine.NoHandle}
}

// LockCount tracks how many SHARED and EXCLUSIVE holds a multi-statement
// batch has accumulated on one key, for UnlockMulti's final release.
type LockCount struct {
	Shared, Exclusive int
}

// Multi holds the state of an EXEC/EVAL/EVALSHA batch.
type Multi struct {
	MultiOpts     command.OptMask
	Incremental   bool
	Locks         map[string]*LockCount
	LocksRecorded bool

	// ScheduledShards is the shard set scheduleInternal admitted the
	// batch onto the one time it ran (every shard, for a global first
	// statement; the first statement's key shards otherwise).
	// UnlockMulti must drain every one of them, not only the shards that
	// ended up owning a recorded per-key lock.
	ScheduledShards []engine.ShardID

	// GlobalLockHeld and GlobalLockMode record whether scheduleInternal
	// acquired the coarse per-shard lock (because the batch's first
	// statement was a global command) and with which mode, so
	// UnlockMulti knows to release it.
	GlobalLockHeld bool
	GlobalLockMode command.LockMode
}

// Transaction is the coordinator's view of one in-flight command or
// multi-statement batch.
type Transaction struct {
	cid      command.ID
	dbIndex  int
	multi    *Multi
	shardSet *engine.ShardSet

	args         []string
	reverseIndex []int
	shardData    []*PerShardData

	uniqueShardCnt int
	uniqueShardID  engine.ShardID

	txID          atomic.Uint64
	coordStateMu  sync.Mutex
	coordState    CoordFlag

	cbMu       sync.Mutex
	cb         Callback
	localResult command.Status

	runCount   atomic.Int64
	useCount   atomic.Int64
	notifyTxID atomic.Uint64

	hopMu sync.Mutex
	hopWG *sync.WaitGroup

	wake chan struct{}
}

// New creates a transaction for cid over dbIndex, attaching a Multi
// sub-object when cid names EXEC/EVAL/EVALSHA.
func New(shardSet *engine.ShardSet, cid command.ID, dbIndex int) *Transaction {
	t := &Transaction{
		cid:      cid,
		dbIndex:  dbIndex,
		shardSet: shardSet,
		wake:     make(chan struct{}, 1),
	}
	t.notifyTxID.Store(sentinelNotify)
	t.useCount.Store(1)

	switch cid.Name() {
	case "EXEC", "EVAL", "EVALSHA":
		t.multi = &Multi{
			MultiOpts:   cid.OptMask(),
			Incremental: cid.Name() == "EXEC",
			Locks:       make(map[string]*LockCount),
		}
	}
	return t
}

// TxID returns the transaction's scheduling token (0 until scheduled).
func (t *Transaction) TxID() uint64 { return t.txID.Load() }

// Name returns the underlying command's name.
func (t *Transaction) Name() string { return t.cid.Name() }

// IsGlobal reports whether this transaction spans every shard
// unconditionally.
func (t *Transaction) IsGlobal() bool { return command.IsGlobal(t.cid) }

// Mode returns the intent lock mode this transaction's command acquires.
func (t *Transaction) Mode() command.LockMode { return command.Mode(t.cid) }

// DebugID renders a short identifier for logging.
func (t *Transaction) DebugID() string {
	return t.Name() + "@" + itoa(t.TxID())
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (t *Transaction) setCoordState(set, clear CoordFlag) {
	t.coordStateMu.Lock()
	t.coordState |= set
	t.coordState &^= clear
	t.coordStateMu.Unlock()
}

func (t *Transaction) hasCoordState(flag CoordFlag) bool {
	t.coordStateMu.Lock()
	defer t.coordStateMu.Unlock()
	return t.coordState&flag != 0
}

// shardIdx maps a shard id to an index into shardData, accounting for
// the single-shard fast path where shardData has length 1 regardless of
// which shard id was chosen.
func (t *Transaction) shardIdx(sid engine.ShardID) int {
	if t.uniqueShardCnt == 1 && len(t.shardData) == 1 {
		return 0
	}
	return int(sid)
}

// ShardArgsInShard returns the slice of args belonging to shard sid.
func (t *Transaction) ShardArgsInShard(sid engine.ShardID) []string {
	if t.uniqueShardCnt == 1 {
		return t.args
	}
	sd := t.shardData[sid]
	if sd.ArgCount <= 0 {
		return nil
	}
	return t.args[sd.ArgStart : sd.ArgStart+sd.ArgCount]
}

// ReverseArgIndex maps position j within shard sid's argument slice back
// to the caller's original argument index. uniqueShardCnt == 1 is
// identity whether it came from the true single-key fast path (no
// reverseIndex ever built) or a multi-key command whose keys all
// collapsed onto one shard: that lone active shard necessarily holds
// every key/value pair the command touched, contiguous from ArgStart
// 0 and in original order, since every other shard's iteration below
// contributed nothing to t.args ahead of it. It also sidesteps
// InitByArgs collapsing shardData to a single slot with a sentinel
// ArgStart, which shardIdx(sid) (not a raw sid index) would be needed
// to address correctly.
func (t *Transaction) ReverseArgIndex(sid engine.ShardID, j int) int {
	if t.uniqueShardCnt == 1 {
		return j
	}
	idx := t.shardIdx(sid)
	sd := t.shardData[idx]
	return t.reverseIndex[sd.ArgStart+j]
}

// GetLockArgs returns the keys shard sid should lock/unlock for this
// transaction. For step==2 commands the interleaved values in the shard's
// argument slice are skipped.
func (t *Transaction) GetLockArgs(sid engine.ShardID) []string {
	args := t.ShardArgsInShard(sid)
	if t.cid.KeyArgStep() != 2 {
		return args
	}
	keys := make([]string, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		keys = append(keys, args[i])
	}
	return keys
}

// DBIndex returns the target database index.
func (t *Transaction) DBIndex() int { return t.dbIndex }

// ShardCount returns the number of per-shard slots this transaction
// tracks (len(shardData)), for callers outside the package that need to
// size a result buffer addressed by ShardSlot (e.g. kv/transaction/findfirst).
func (t *Transaction) ShardCount() int { return len(t.shardData) }

// ShardSlot exposes shardIdx to callers outside the package that need to
// address per-shard result buffers the same way Transaction indexes
// shardData internally.
func (t *Transaction) ShardSlot(sid engine.ShardID) int { return t.shardIdx(sid) }

// shardActive reports whether shard sid participates in this
// transaction.
func (t *Transaction) shardActive(sid engine.ShardID) bool {
	if t.IsGlobal() {
		return true
	}
	if t.uniqueShardCnt == 1 {
		return sid == t.uniqueShardID
	}
	return t.shardData[sid].ArgCount > 0
}

// InitByArgs classifies args (the full command argument vector,
// including the command name at index 0) by shard.
func (t *Transaction) InitByArgs(args []string) error {
	n := t.shardSet.Size()

	if t.IsGlobal() {
		t.uniqueShardCnt = n
		t.shardData = make([]*PerShardData, n)
		for i := range t.shardData {
			t.shardData[i] = newPerShardData()
		}
		return nil
	}

	keyIndex, err := t.cid.DetermineKeys(args)
	if err != nil {
		return errors.Annotatef(err, "%s: determining keys", t.Name())
	}

	if keyIndex.Empty() {
		// Zero-key EVAL, or a NoKeyTransactional command.
		t.uniqueShardCnt = 0
		return nil
	}

	if len(args) < 2 {
		return errors.Errorf("%s: expects at least one argument besides the command name", t.Name())
	}

	incrementalLocking := t.multi != nil && t.multi.Incremental
	singleKey := t.multi == nil && keyIndex.Start+keyIndex.Step >= keyIndex.End

	if singleKey {
		for j := keyIndex.Start; j < keyIndex.Start+keyIndex.Step; j++ {
			t.args = append(t.args, args[j])
		}
		key := t.args[0]
		t.uniqueShardCnt = 1
		t.uniqueShardID = engine.ShardID(command.Shard(key, n))
		t.shardData = []*PerShardData{newPerShardData()}
		return nil
	}

	if keyIndex.Step != 1 && keyIndex.Step != 2 {
		return errors.Errorf("%s: key step must be 1 or 2, got %d", t.Name(), keyIndex.Step)
	}

	t.shardData = make([]*PerShardData, n)
	for i := range t.shardData {
		t.shardData[i] = newPerShardData()
	}

	shardArgs := make([][]string, n)
	shardOrigIdx := make([][]int, n)

	mode := command.Exclusive
	shouldRecordLocks := false
	seenKeys := map[string]struct{}{}
	if t.multi != nil {
		mode = t.Mode()
		shouldRecordLocks = incrementalLocking || !t.multi.LocksRecorded
	}

	for i := keyIndex.Start; i < keyIndex.End; i++ {
		key := args[i]
		sid := command.Shard(key, n)
		shardArgs[sid] = append(shardArgs[sid], key)
		shardOrigIdx[sid] = append(shardOrigIdx[sid], i-1)

		if shouldRecordLocks {
			if _, dup := seenKeys[key]; !dup {
				seenKeys[key] = struct{}{}
				lc, ok := t.multi.Locks[key]
				if !ok {
					lc = &LockCount{}
					t.multi.Locks[key] = lc
				}
				if mode == command.Shared {
					lc.Shared++
				} else {
					lc.Exclusive++
				}
			}
		}

		if keyIndex.Step == 2 {
			i++
			val := args[i]
			shardArgs[sid] = append(shardArgs[sid], val)
			shardOrigIdx[sid] = append(shardOrigIdx[sid], i-1)
		}
	}

	if t.multi != nil {
		t.multi.LocksRecorded = true
	}

	for i := 0; i < n; i++ {
		sd := t.shardData[i]
		if incrementalLocking {
			sd.LocalMask = 0
		}
		sd.ArgStart = len(t.args)
		sd.ArgCount = len(shardArgs[i])
		if sd.ArgCount == 0 {
			continue
		}
		t.uniqueShardCnt++
		t.uniqueShardID = engine.ShardID(i)
		t.args = append(t.args, shardArgs[i]...)
		t.reverseIndex = append(t.reverseIndex, shardOrigIdx[i]...)
	}

	if t.uniqueShardCnt == 1 {
		var sd *PerShardData
		if t.multi != nil {
			sd = t.shardData[t.uniqueShardID]
		} else {
			t.shardData = []*PerShardData{t.shardData[t.uniqueShardID]}
			sd = t.shardData[0]
		}
		sd.ArgStart, sd.ArgCount = argSentinel, argSentinel
	}

	if t.uniqueShardCnt == 0 {
		log.Debugf("%s: InitByArgs resolved zero shards", t.DebugID())
	}

	return nil
}
