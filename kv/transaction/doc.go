// Package transaction implements the transaction coordinator of a
// sharded in-memory key-value store. The store partitions its keyspace
// across a fixed set of single-threaded execution shards (kv/engine);
// each shard owns its data partition and processes operations serially
// on its own worker goroutine. A Transaction is the unit through which a
// command touches one or more keys atomically from the perspective of
// the shards it spans.
//
// The coordinator routes a command's arguments to the shards that own
// its keys (InitByArgs), schedules the command into each shard's
// priority queue so that concurrent multi-shard commands observe a
// consistent global order (Schedule/ScheduleSingleHop), allows an
// out-of-order fast path when no earlier queued entry conflicts, and
// supports both blocking commands (WaitOnWatch) and multi-statement
// transaction blocks (SetExecCmd/UnlockMulti).
//
// A Transaction is created once per incoming command and is driven by a
// single coordinator goroutine at a time, fanning work out to shard
// goroutines and waiting at well-defined barriers (Execute,
// ScheduleSingleHop, WaitOnWatch, UnlockMulti); shard goroutines never
// block on the coordinator. See kv/engine for the shard-side contracts
// (ShardSet, EngineShard, IntentLocks, TxQueue, WatchRegistry) this
// package is built against.
package transaction
