package config

import "time"

// Config is the coordinator's toml-driven configuration.
type Config struct {
	StoreAddr string `toml:"store-addr"`
	HttpAddr  string `toml:"http-addr"`
	LogLevel  string `toml:"log-level"`
	MaxProcs  int    `toml:"max-procs"` // Max CPU cores to use, set 0 to use all CPU cores in the machine.

	// ShardCount is the number of EngineShard partitions the keyspace is
	// split across. Fixed for the lifetime of a ShardSet; there is no
	// resharding operation.
	ShardCount int `toml:"shard-count"`

	// BlockingTimeout is the configured wait for blocking commands (BLPOP
	// and friends). Nothing in this repository reads it: WaitOnWatch and
	// findfirst.Processor always take an explicit deadline from the caller.
	BlockingTimeout time.Duration `toml:"blocking-timeout"`

	// ConvergencePollInterval governs how often WaitForConvergence
	// re-checks a shard's committed_txid while waiting for it to catch up
	// to a notifying shard.
	ConvergencePollInterval time.Duration `toml:"convergence-poll-interval"`
}

var DefaultConf = Config{
	StoreAddr:               "127.0.0.1:9191",
	HttpAddr:                "127.0.0.1:9291",
	LogLevel:                "info",
	MaxProcs:                0,
	ShardCount:              8,
	BlockingTimeout:         5 * time.Second,
	ConvergencePollInterval: 2 * time.Millisecond,
}
