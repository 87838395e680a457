package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeWatcher struct {
	txid   uint64
	woken  []uint64
	accept bool
}

func (f *fakeWatcher) TxID() uint64 { return f.txid }

func (f *fakeWatcher) NotifySuspended(committedTxID uint64, shardID uint32) bool {
	if !f.accept {
		return false
	}
	f.woken = append(f.woken, committedTxID)
	f.accept = false
	return true
}

func TestWatchRegistryNotifyWakesOnlyRegisteredWatchers(t *testing.T) {
	r := NewWatchRegistry()
	w1 := &fakeWatcher{txid: 1, accept: true}
	w2 := &fakeWatcher{txid: 2, accept: true}

	r.Add("key", w1)
	r.Notify("key", 100, 0)

	assert.Equal(t, []uint64{100}, w1.woken)
	assert.Nil(t, w2.woken)
}

func TestWatchRegistryRemoveStopsFurtherNotifications(t *testing.T) {
	r := NewWatchRegistry()
	w := &fakeWatcher{txid: 1, accept: true}

	r.Add("key", w)
	r.Remove("key", w)
	r.Notify("key", 100, 0)

	assert.Nil(t, w.woken)
}

func TestWatchRegistryGCDropsAllWatchersOnKeys(t *testing.T) {
	r := NewWatchRegistry()
	w := &fakeWatcher{txid: 1, accept: true}

	r.Add("a", w)
	r.Add("b", w)
	r.GC([]string{"a", "b"})

	r.Notify("a", 1, 0)
	r.Notify("b", 1, 0)
	assert.Nil(t, w.woken)
}
