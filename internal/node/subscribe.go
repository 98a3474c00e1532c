package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
)

// eventType mirrors the daemon's push notification taxonomy.
type eventType string

const (
	eventPeerCountUpdated      eventType = "peer_count_updated"
	eventLocalHeightUpdated    eventType = "local_height_updated"
	eventKnownHeightUpdated    eventType = "known_height_updated"
	eventPoolChanged           eventType = "pool_changed"
	eventBlockchainSynchronized eventType = "blockchain_synchronized"
	eventChainSwitched         eventType = "chain_switched"
)

// wsEvent is the envelope the daemon pushes over its subscribe socket.
type wsEvent struct {
	Type eventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscribe dials the daemon's push endpoint and dispatches events to obs
// until ctx is done or the connection drops. The returned cancel closes the
// socket immediately.
func (c *Client) Subscribe(ctx context.Context, obs Observer) (func(), error) {
	if c.subscribeURL == "" {
		return func() {}, fmt.Errorf("node: no subscribe endpoint configured")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.subscribeURL, nil)
	if err != nil {
		return func() {}, fmt.Errorf("node: dial subscribe endpoint: %w", err)
	}

	done := make(chan struct{})
	cancel := func() {
		conn.Close()
		<-done
	}

	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if c.log != nil {
					c.log.Debug("node subscribe read ended", "error", err)
				}
				return
			}
			var ev wsEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				if c.log != nil {
					c.log.Warn("node subscribe: malformed event", "error", err)
				}
				continue
			}
			dispatchEvent(obs, ev)
		}
	}()

	return cancel, nil
}

func dispatchEvent(obs Observer, ev wsEvent) {
	switch ev.Type {
	case eventPeerCountUpdated:
		var d struct {
			Count uint32 `json:"count"`
		}
		if json.Unmarshal(ev.Data, &d) == nil {
			obs.PeerCountUpdated(d.Count)
		}
	case eventLocalHeightUpdated:
		var d struct {
			Height uint32 `json:"height"`
		}
		if json.Unmarshal(ev.Data, &d) == nil {
			obs.LocalHeightUpdated(d.Height)
		}
	case eventKnownHeightUpdated:
		var d struct {
			Height uint32 `json:"height"`
		}
		if json.Unmarshal(ev.Data, &d) == nil {
			obs.KnownHeightUpdated(d.Height)
		}
	case eventPoolChanged:
		obs.PoolChanged()
	case eventBlockchainSynchronized:
		var d struct {
			TopHeight uint32 `json:"top_height"`
		}
		if json.Unmarshal(ev.Data, &d) == nil {
			obs.BlockchainSynchronized(d.TopHeight)
		}
	case eventChainSwitched:
		var d struct {
			NewTop     uint32   `json:"new_top"`
			CommonRoot uint32   `json:"common_root"`
			Hashes     []string `json:"hashes"`
		}
		if json.Unmarshal(ev.Data, &d) == nil {
			hashes := make([]cryptonote.Hash, 0, len(d.Hashes))
			for _, s := range d.Hashes {
				if h, err := hexToHash(s); err == nil {
					hashes = append(hashes, h)
				}
			}
			obs.ChainSwitched(d.NewTop, d.CommonRoot, hashes)
		}
	}
}
