package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/ngaut/log"

	"github.com/shardkv-io/shardkv/config"
	"github.com/shardkv-io/shardkv/kv/command"
	"github.com/shardkv-io/shardkv/kv/engine"
	"github.com/shardkv-io/shardkv/kv/transaction"
)

var (
	configPath = flag.String("config", "", "path to a toml config file")
	storeAddr  = flag.String("addr", "", "store address")
	httpAddr   = flag.String("http-addr", "", "HTTP status/metrics address")
	shardCount = flag.Int("shards", 0, "number of EngineShard partitions (0 keeps config's value)")
)

// setCmd and getCmd are the only two commands this demo binary routes,
// enough to exercise InitByArgs' single-key fast path end to end.
var (
	setCmd = &command.Descriptor{CmdName: "SET", Opts: 0, Step: 2}
	getCmd = &command.Descriptor{CmdName: "GET", Opts: command.ReadOnly, Step: 1}
)

func main() {
	flag.Parse()
	conf := config.DefaultConf
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &conf); err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
	}
	if *storeAddr != "" {
		conf.StoreAddr = *storeAddr
	}
	if *httpAddr != "" {
		conf.HttpAddr = *httpAddr
	}
	if *shardCount > 0 {
		conf.ShardCount = *shardCount
	}

	log.SetLevelByString(conf.LogLevel)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Infof("shardkv-coordinator starting, conf %+v", conf)

	shardSet := engine.NewShardSet(conf.ShardCount, conf.ConvergencePollInterval)

	smokeTest(shardSet)

	router := createRouter(shardSet)
	httpServer := &http.Server{Addr: conf.HttpAddr, Handler: router}
	go func() {
		log.Infof("status/metrics listening on %s", conf.HttpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	handleSignal(httpServer, shardSet)
}

// smokeTest runs a SET followed by a GET through the full scheduling
// path at startup, proving the coordinator is wired end to end before
// it starts serving real traffic.
func smokeTest(shardSet *engine.ShardSet) {
	setTx := transaction.New(shardSet, setCmd, 0)
	if err := setTx.InitByArgs([]string{"SET", "hello", "world"}); err != nil {
		log.Fatalf("smoke test: InitByArgs(SET): %v", err)
	}
	status := setTx.ScheduleSingleHop(func(t *transaction.Transaction, shard *engine.EngineShard) command.Status {
		args := t.ShardArgsInShard(shard.ID())
		shard.Store.Set(args[0], args[1])
		shard.Commit(t.TxID(), args[:1])
		return command.OK
	})
	log.Infof("smoke test: SET hello world -> %s", status)

	getTx := transaction.New(shardSet, getCmd, 0)
	if err := getTx.InitByArgs([]string{"GET", "hello"}); err != nil {
		log.Fatalf("smoke test: InitByArgs(GET): %v", err)
	}
	var value string
	status = getTx.ScheduleSingleHop(func(t *transaction.Transaction, shard *engine.EngineShard) command.Status {
		args := t.ShardArgsInShard(shard.ID())
		v, ok := shard.Store.Get(args[0])
		if !ok {
			return command.KeyNotFound
		}
		value = v
		return command.OK
	})
	log.Infof("smoke test: GET hello -> %q (%s)", value, status)
}

func handleSignal(httpServer *http.Server, shardSet *engine.ShardSet) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	log.Infof("got signal [%s], shutting down", sig)
	_ = httpServer.Close()
	shardSet.Close()
}
