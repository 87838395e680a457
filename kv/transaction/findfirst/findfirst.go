// Package findfirst implements the fan-out/fan-in aggregator behind
// multi-key commands that want the first ready key among several - a
// non-blocking MGET-style lookup, or a blocking BLPOP-style wait. Each
// participating shard reports its own local FindFirst result; the
// aggregator picks the OK result closest to the front of the caller's
// original argument vector, short-circuits on WrongType, and - for
// blocking callers - retries behind Transaction.WaitOnWatch until a key
// turns up or the deadline elapses.
package findfirst

import (
	"time"

	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
	"github.com/shardkv-io/shardkv/kv/transaction"
)

// Result is the aggregate outcome of one FindFirst pass.
type Result struct {
	Value  string
	ArgPos int
	Status command.Status
}

// Shard is the narrow local lookup a FindFirst pass needs from a shard's
// data plane. *engine.Store satisfies this directly.
type Shard interface {
	FindFirst(args []string) (value string, idx int, status command.Status)
}

// Processor drives one FindFirst pass, and the retry loop behind it for
// blocking callers, over a transaction's participating shards.
type Processor struct {
	tx       *transaction.Transaction
	lookup   func(shard *engine.EngineShard) Shard
	blocking bool
	deadline time.Time
}

// New creates a Processor for tx. lookup adapts an EngineShard to the
// Shard interface this pass needs - normally `func(s *engine.EngineShard)
// findfirst.Shard { return s.Store }`.
func New(tx *transaction.Transaction, lookup func(shard *engine.EngineShard) Shard) *Processor {
	return &Processor{tx: tx, lookup: lookup}
}

// WithDeadline makes Run block - registering watches and retrying -
// until deadline if the first pass finds nothing, instead of returning
// KeyNotFound immediately.
func (p *Processor) WithDeadline(deadline time.Time) *Processor {
	p.blocking = true
	p.deadline = deadline
	return p
}

// Run executes one FindFirst pass, and for a blocking Processor retries
// it once per wake-up, until a key is found, an error short-circuits the
// aggregate, or the deadline elapses.
func (p *Processor) Run() Result {
	for {
		res := p.pass()
		if res.Status != command.KeyNotFound || !p.blocking {
			return res
		}

		status := p.tx.WaitOnWatch(p.deadline)
		if status != command.OK {
			return Result{Status: status, ArgPos: -1}
		}
	}
}

type shardResult struct {
	value  string
	argPos int
	status command.Status
}

// pass runs one fan-out/fan-in round via Transaction.Execute: every
// participating shard checks its own slice of args, and the results are
// merged back into a single Result once every shard has reported in.
// A blocking pass retried from Run after a wake-up never needs to
// compare the waking shard's committed txid itself: WaitOnWatch
// already blocked the caller until every participating shard
// converged up to that txid, so by the time pass runs again every
// shard's data plane already reflects the mutation that triggered the
// wake.
func (p *Processor) pass() Result {
	results := make([]shardResult, p.tx.ShardCount())
	for i := range results {
		results[i].status = command.KeyNotFound
	}

	p.tx.Execute(func(t *transaction.Transaction, shard *engine.EngineShard) command.Status {
		sid := shard.ID()
		args := t.ShardArgsInShard(sid)
		slot := t.ShardSlot(sid)
		if len(args) == 0 {
			results[slot] = shardResult{status: command.KeyNotFound}
			return command.OK
		}

		value, idx, status := p.lookup(shard).FindFirst(args)

		if status == command.OK {
			results[slot] = shardResult{value: value, argPos: t.ReverseArgIndex(sid, idx), status: command.OK}
		} else {
			results[slot] = shardResult{status: status}
		}

		if status == command.KeyNotFound && p.blocking {
			t.AddToWatchedShardCb(shard)
		}
		return status
	}, true)

	best := Result{Status: command.KeyNotFound, ArgPos: -1}
	found := false
	for _, r := range results {
		if r.status == command.WrongType {
			return Result{Status: command.WrongType, ArgPos: -1}
		}
		if r.status == command.OK && (!found || r.argPos < best.ArgPos) {
			best = Result{Value: r.value, ArgPos: r.argPos, Status: command.OK}
			found = true
		}
	}

	if found && p.blocking {
		p.tx.UnregisterWatch()
	}
	return best
}
