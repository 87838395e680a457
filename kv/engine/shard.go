package engine

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/ngaut/log"
	"go.uber.org/atomic"
)

// Pollable is implemented by Transaction so that EngineShard can drive a
// partially-scheduled hop off its TxQueue without either package
// depending on the other's concrete type: the cyclic coordinator<->shard
// reference is modeled as two narrow interfaces instead of raw pointers
// in both directions.
type Pollable interface {
	QueueEntry
	// TryRun attempts to run this entry's current hop on shard. It
	// returns false if the entry is not armed for this hop yet, in
	// which case the caller must stop draining the queue - entries
	// behind it in txid order may not run ahead of it.
	TryRun(shard *EngineShard) (ran bool)
}

type convergeWaiter struct {
	notify uint64
	done   func()
}

// EngineShard owns one partition of the keyspace: its intent lock table,
// its value store, its pending-transaction queue and its watch registry.
// Exactly one goroutine - this shard's worker - ever mutates shard-local
// state; everything else reaches it only through Submit/PollExecution.
type EngineShard struct {
	id ShardID

	committedTxID atomic.Uint64
	quickRuns     atomic.Uint64

	Locks *IntentLocks
	Lock  *ShardLock
	Store *Store
	Watch *WatchRegistry
	txq   *TxQueue

	tasks chan func(*EngineShard)

	convergeMu sync.Mutex
	converge   []convergeWaiter
}

// ShardID identifies one shard within a ShardSet.
type ShardID uint32

func newEngineShard(id ShardID, taskBuf int) *EngineShard {
	return &EngineShard{
		id:     id,
		Locks:  NewIntentLocks(),
		Lock:   &ShardLock{},
		Store:  NewStore(),
		Watch:  NewWatchRegistry(),
		txq:    NewTxQueue(),
		tasks:  make(chan func(*EngineShard), taskBuf),
	}
}

// ID returns this shard's index.
func (s *EngineShard) ID() ShardID { return s.id }

func (s *EngineShard) label() string { return strconv.Itoa(int(s.id)) }

// CommittedTxID returns the largest txid whose effects are visible on
// this shard.
func (s *EngineShard) CommittedTxID() uint64 { return s.committedTxID.Load() }

// advanceCommitted bumps committed_txid to txid (monotonic) and wakes any
// coordinator waiting for convergence up to that point.
func (s *EngineShard) advanceCommitted(txid uint64) {
	for {
		cur := s.committedTxID.Load()
		if txid <= cur {
			break
		}
		if s.committedTxID.CAS(cur, txid) {
			break
		}
	}
	s.convergeMu.Lock()
	cur := s.committedTxID.Load()
	remaining := s.converge[:0]
	for _, w := range s.converge {
		if cur >= w.notify {
			w.done()
		} else {
			remaining = append(remaining, w)
		}
	}
	s.converge = remaining
	s.convergeMu.Unlock()
}

// Commit advances this shard's committed_txid to txid and wakes every
// transaction watching any of keys, in that order. Called by a
// mutating command's callback once its write against keys has landed in
// the store - the one shard-side hook a mutator needs to make a
// blocking waiter's wake-up and the convergence pass both observable.
func (s *EngineShard) Commit(txid uint64, keys []string) {
	s.advanceCommitted(txid)
	for _, k := range keys {
		s.Watch.Notify(k, txid, uint32(s.id))
	}
}

// TxQueue exposes the shard's pending-transaction queue.
func (s *EngineShard) TxQueue() *TxQueue { return s.txq }

// InsertQueue inserts e into the shard's TxQueue and refreshes the
// txqueue_depth gauge for this shard.
func (s *EngineShard) InsertQueue(e QueueEntry) uint64 {
	h := s.txq.Insert(e)
	s.observeQueueDepth()
	return h
}

// RemoveQueue removes handle from the shard's TxQueue and refreshes the
// txqueue_depth gauge for this shard.
func (s *EngineShard) RemoveQueue(handle uint64) {
	s.txq.Remove(handle)
	s.observeQueueDepth()
}

func (s *EngineShard) observeQueueDepth() {
	queueDepthGauge.WithLabelValues(s.label()).Set(float64(s.txq.Size()))
}

// ObserveBlocked adjusts the blocked_transactions gauge for this shard by
// delta, called when a transaction is added to or removed from the
// shard's watch registry.
func (s *EngineShard) ObserveBlocked(delta int) {
	blockedGauge.WithLabelValues(s.label()).Add(float64(delta))
}

// IncQuickRun records a quickie-path execution for metrics.
func (s *EngineShard) IncQuickRun() {
	s.quickRuns.Inc()
	quickieTotal.WithLabelValues(s.label()).Inc()
}

// QuickRuns reports how many quickie-path executions this shard has run.
func (s *EngineShard) QuickRuns() uint64 { return s.quickRuns.Load() }

// IncOOOGranted records an out-of-order grant for metrics.
func (s *EngineShard) IncOOOGranted() {
	oooGrantedTotal.WithLabelValues(s.label()).Inc()
}

// PollExecution drives the shard's TxQueue forward. If hint is non-nil it
// is tried first (it is usually the transaction whose hop was just
// armed); afterwards - and always, if hint is nil - the front of the
// queue is tried repeatedly until an entry reports it isn't ready yet.
// A front entry that ran and is still queued afterwards is removed, so
// each ready entry runs once. tag is a short label for diagnostics identifying the call site
// (e.g. "exec_cb", "schedule_unique", "unlockmulti").
func (s *EngineShard) PollExecution(tag string, hint Pollable) {
	if hint != nil {
		if !hint.TryRun(s) {
			log.Debugf("shard %d: PollExecution(%s) hint not ready, draining queue instead", s.id, tag)
		}
	}
	for {
		front := s.txq.Front()
		if front == nil {
			return
		}
		p, ok := front.(Pollable)
		if !ok || !p.TryRun(s) {
			return
		}
		if s.txq.Front() == front {
			s.RemoveQueue(front.TxID())
		}
	}
}

// ProcessAwakened advances the wake-up machinery after a concluding hop
// releases its locks: it drains the queue so that any transaction newly
// unblocked by the release gets its turn, and (if justWoke is non-nil)
// accounts for the transaction that was itself woken pre-run.
func (s *EngineShard) ProcessAwakened(justWoke Pollable) {
	s.PollExecution("process_awakened", justWoke)
}

// ShutdownMulti releases any shard-local bookkeeping held on behalf of a
// multi-statement batch, beyond the lock release UnlockMulti already
// performed. This in-memory engine has no further per-multi shard state
// to clean up.
func (s *EngineShard) ShutdownMulti(tx Pollable) {
	log.Debugf("shard %d: ShutdownMulti %v", s.id, tx.TxID())
}

// HasResultConverged reports whether this shard has already applied
// state through notify (i.e. committed_txid >= notify).
func (s *EngineShard) HasResultConverged(notify uint64) bool {
	return s.committedTxID.Load() >= notify
}

// WaitForConvergence arranges for done to be called once this shard's
// committed_txid reaches notify - immediately, if it already has.
func (s *EngineShard) WaitForConvergence(notify uint64, done func()) {
	if s.HasResultConverged(notify) {
		done()
		return
	}
	s.convergeMu.Lock()
	s.converge = append(s.converge, convergeWaiter{notify: notify, done: done})
	s.convergeMu.Unlock()
}

// sweepConverge re-evaluates pending convergence waiters against the
// shard's current committed_txid. advanceCommitted already wakes
// waiters the moment their target is reached, so in normal operation
// this finds nothing to do; it exists as a belt-and-suspenders sweep
// against the case where a waiter is registered for a notify value that
// was already reached by a commit that raced ahead of it.
func (s *EngineShard) sweepConverge() {
	cur := s.committedTxID.Load()
	s.convergeMu.Lock()
	remaining := s.converge[:0]
	var ready []convergeWaiter
	for _, w := range s.converge {
		if cur >= w.notify {
			ready = append(ready, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.converge = remaining
	s.convergeMu.Unlock()
	for _, w := range ready {
		w.done()
	}
}

func (s *EngineShard) String() string {
	return fmt.Sprintf("shard(%d)", s.id)
}
