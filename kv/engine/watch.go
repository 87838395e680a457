package engine

import "sync"

// Watchable is implemented by Transaction. It is the shard-side notifier
// contract for blocking commands: when a mutator touches a watched key,
// the shard calls NotifySuspended on every transaction registered against
// that key.
//
// The registry is keyed by the watched *key* (several keys per
// transaction, and several transactions per key), and wake-up happens
// through the Transaction's own wake channel, funneling every wake path
// through one coordinator-owned signal per transaction.
type Watchable interface {
	QueueEntry
	NotifySuspended(committedTxID uint64, shardID uint32) bool
}

// WatchRegistry maps a watched key to the set of transactions suspended
// on it.
type WatchRegistry struct {
	mu       sync.Mutex
	watchers map[string]map[Watchable]struct{}
}

// NewWatchRegistry creates an empty registry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{watchers: make(map[string]map[Watchable]struct{})}
}

// Add registers tx against key.
func (r *WatchRegistry) Add(key string, tx Watchable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[key]
	if !ok {
		set = make(map[Watchable]struct{})
		r.watchers[key] = set
	}
	set[tx] = struct{}{}
}

// Remove unregisters tx from key. Safe to call even if tx was never
// registered against key.
func (r *WatchRegistry) Remove(key string, tx Watchable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[key]
	if !ok {
		return
	}
	delete(set, tx)
	if len(set) == 0 {
		delete(r.watchers, key)
	}
}

// GC drops every watcher registered against keys. Used when a blocking
// transaction expires and its watch registrations must be cleared
// regardless of which shard the timeout fired on.
func (r *WatchRegistry) GC(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.watchers, k)
	}
}

// Notify wakes every transaction watching key, passing the committed
// txid of the mutation that woke them and the shard that produced it.
// It is called by a shard-local mutator (e.g. RPUSH's callback) right
// after the mutation commits.
func (r *WatchRegistry) Notify(key string, committedTxID uint64, shardID uint32) {
	r.mu.Lock()
	set := r.watchers[key]
	var watchers []Watchable
	for w := range set {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		w.NotifySuspended(committedTxID, shardID)
	}
}
