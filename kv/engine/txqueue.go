package engine

import (
	"sync"

	"github.com/google/btree"
)

// QueueEntry is the minimum a TxQueue needs to order an entry: its
// scheduling token. Transaction implements this plus Pollable (below).
type QueueEntry interface {
	TxID() uint64
}

// NoHandle is returned by Insert for a zero txid and is never a valid
// handle; it is the sentinel PerShardData.PQPos holds when a transaction
// has no queue entry on a shard.
const NoHandle uint64 = 0

type txqItem struct {
	txid  uint64
	entry QueueEntry
}

func (i *txqItem) Less(other btree.Item) bool {
	return i.txid < other.(*txqItem).txid
}

// TxQueue orders pending transactions by txid, the way EngineShard's
// TxQueue contract requires. It is backed by github.com/google/btree,
// an ordered-index structure well suited to a small, frequently
// mutated set of entries ordered by a scalar key.
//
// A TxQueue belongs to exactly one EngineShard and is only ever touched
// from that shard's worker goroutine; it needs no locking of its own in
// production use, but the mutex lets tests exercise it directly.
type TxQueue struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// NewTxQueue creates an empty queue.
func NewTxQueue() *TxQueue {
	return &TxQueue{tree: btree.New(8)}
}

// Insert adds e, ordered by e.TxID(), and returns a handle for later
// Remove/At calls. The handle is simply the txid: txids are unique and
// monotonically increasing, so they double as a stable handle without
// needing a separate generation counter.
func (q *TxQueue) Insert(e QueueEntry) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tree.ReplaceOrInsert(&txqItem{txid: e.TxID(), entry: e})
	return e.TxID()
}

// Remove drops the entry at handle, if present.
func (q *TxQueue) Remove(handle uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tree.Delete(&txqItem{txid: handle})
}

// Front returns the entry with the smallest txid, or nil if empty.
func (q *TxQueue) Front() QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.tree.Min()
	if item == nil {
		return nil
	}
	return item.(*txqItem).entry
}

// PopFront removes and returns the entry with the smallest txid.
func (q *TxQueue) PopFront() QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.tree.DeleteMin()
	if item == nil {
		return nil
	}
	return item.(*txqItem).entry
}

// At returns the entry at handle without removing it.
func (q *TxQueue) At(handle uint64) QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.tree.Get(&txqItem{txid: handle})
	if item == nil {
		return nil
	}
	return item.(*txqItem).entry
}

// TailScore returns the largest txid currently queued, or 0 if empty.
func (q *TxQueue) TailScore() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.tree.Max()
	if item == nil {
		return 0
	}
	return item.(*txqItem).txid
}

// Empty reports whether the queue has no entries.
func (q *TxQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len() == 0
}

// Size returns the number of queued entries.
func (q *TxQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}
