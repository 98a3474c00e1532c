package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

type simpleObserver struct {
	mu         sync.Mutex
	lastHeight uint32
	poolEvents int
}

func (o *simpleObserver) PeerCountUpdated(uint32) {}
func (o *simpleObserver) LocalHeightUpdated(h uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastHeight = h
}
func (o *simpleObserver) KnownHeightUpdated(uint32) {}
func (o *simpleObserver) PoolChanged() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.poolEvents++
}
func (o *simpleObserver) BlockchainSynchronized(uint32)                                 {}
func (o *simpleObserver) ChainSwitched(uint32, uint32, []cryptonote.Hash) {}

func TestSubscribeDispatchesPushedEvents(t *testing.T) {
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"local_height_updated","data":{"height":42}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pool_changed","data":{}}`))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient("", wsURL, 5*time.Second, nil)

	obs := &simpleObserver{}
	cancel, err := c.Subscribe(context.Background(), obs)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.lastHeight != 42 {
		t.Fatalf("lastHeight = %d, want 42", obs.lastHeight)
	}
	if obs.poolEvents != 1 {
		t.Fatalf("poolEvents = %d, want 1", obs.poolEvents)
	}
}
