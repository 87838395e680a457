package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"

	"github.com/shardkv-io/shardkv/kv/engine"
)

// shardStatus is one EngineShard's snapshot for the /status page.
type shardStatus struct {
	Shard         int    `json:"shard"`
	CommittedTxID uint64 `json:"committed_txid"`
	QueueDepth    int    `json:"queue_depth"`
}

type statusHandler struct {
	shardSet *engine.ShardSet
	rd       *render.Render
}

func newStatusHandler(shardSet *engine.ShardSet, rd *render.Render) *statusHandler {
	return &statusHandler{shardSet: shardSet, rd: rd}
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	statuses := make([]shardStatus, h.shardSet.Size())
	for i := range statuses {
		shard := h.shardSet.Shard(engine.ShardID(i))
		statuses[i] = shardStatus{
			Shard:         i,
			CommittedTxID: shard.CommittedTxID(),
			QueueDepth:    shard.TxQueue().Size(),
		}
	}
	h.rd.JSON(w, http.StatusOK, statuses)
}

// createRouter wires the coordinator's HTTP surface, following the
// pattern of pd/server/api/router.go: a render.Render shared across
// handlers, mounted on a mux.Router.
func createRouter(shardSet *engine.ShardSet) *mux.Router {
	rd := render.New(render.Options{IndentJSON: true})

	router := mux.NewRouter()
	router.Handle("/status", newStatusHandler(shardSet, rd)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}
