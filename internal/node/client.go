package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cryptonote-go/walletengine/internal/cryptonote"
	"github.com/cryptonote-go/walletengine/internal/walleterr"
	"github.com/cryptonote-go/walletengine/pkg/logging"
)

// Client implements Node over JSON-RPC HTTP, matching the daemon's
// query_blocks/get_random_outputs/relay_transaction/... method set.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	requestID  atomic.Uint64
	log        *logging.Logger

	subscribeURL string
}

// NewClient builds a Client targeting rpcURL for request/response RPC and
// subscribeURL (a ws:// or wss:// endpoint) for pushed observer events.
func NewClient(rpcURL, subscribeURL string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		rpcURL:       rpcURL,
		subscribeURL: subscribeURL,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
	}
}

func hashToHex(h cryptonote.Hash) string { return hex.EncodeToString(h[:]) }

func hexToHash(s string) (cryptonote.Hash, error) {
	var h cryptonote.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("node: decode hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("node: hash %q has wrong length %d", s, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func pubKeyToHex(p cryptonote.PublicKey) string { return hex.EncodeToString(p[:]) }

func hexToPubKey(s string) (cryptonote.PublicKey, error) {
	var p cryptonote.PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("node: decode public key %q: %w", s, err)
	}
	if len(raw) != len(p) {
		return p, fmt.Errorf("node: public key %q has wrong length %d", s, len(raw))
	}
	copy(p[:], raw)
	return p, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("node: marshal request %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("node: build request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return walleterr.Wrap(walleterr.NetworkError, "node: call "+method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return walleterr.Wrap(walleterr.NetworkError, "node: read response "+method, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return walleterr.Wrap(walleterr.NetworkError, "node: parse response "+method, err)
	}
	if envelope.Error != nil {
		return walleterr.New(walleterr.NetworkError, fmt.Sprintf("node: %s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("node: unmarshal result %s: %w", method, err)
	}
	return nil
}

func (c *Client) QueryBlocks(ctx context.Context, knownBlockHashes []cryptonote.Hash, timestamp uint64) (QueryBlocksResult, error) {
	hashes := make([]string, len(knownBlockHashes))
	for i, h := range knownBlockHashes {
		hashes[i] = hashToHex(h)
	}

	var resp struct {
		StartHeight uint32 `json:"start_height"`
		Blocks      []struct {
			BlockHash  string `json:"block_hash"`
			MaybeBlock bool   `json:"maybe_block"`
			TxHashes   []string `json:"tx_hashes"`
			Txs        []struct {
				TxHash string `json:"tx_hash"`
				TxRaw  string `json:"tx_raw"`
			} `json:"txs"`
		} `json:"blocks"`
	}

	err := c.call(ctx, "query_blocks", map[string]interface{}{
		"block_ids": hashes,
		"timestamp": timestamp,
	}, &resp)
	if err != nil {
		return QueryBlocksResult{}, err
	}

	out := QueryBlocksResult{StartHeight: resp.StartHeight}
	for _, b := range resp.Blocks {
		blockHash, err := hexToHash(b.BlockHash)
		if err != nil {
			return QueryBlocksResult{}, err
		}
		entry := BlockShortEntry{BlockHash: blockHash, MaybeBlock: b.MaybeBlock}
		for _, th := range b.TxHashes {
			h, err := hexToHash(th)
			if err != nil {
				return QueryBlocksResult{}, err
			}
			entry.TxHashes = append(entry.TxHashes, h)
		}
		for _, tx := range b.Txs {
			h, err := hexToHash(tx.TxHash)
			if err != nil {
				return QueryBlocksResult{}, err
			}
			raw, err := hex.DecodeString(tx.TxRaw)
			if err != nil {
				return QueryBlocksResult{}, fmt.Errorf("node: decode tx raw: %w", err)
			}
			entry.Txs = append(entry.Txs, TxShortInfo{TxHash: h, TxRaw: raw})
		}
		out.Blocks = append(out.Blocks, entry)
	}
	return out, nil
}

func (c *Client) GetTxOutsGlobalIndices(ctx context.Context, txHash cryptonote.Hash) ([]uint32, error) {
	var resp struct {
		Indices []uint32 `json:"o_indexes"`
	}
	err := c.call(ctx, "get_tx_outs_global_indices", map[string]interface{}{
		"tx_hash": hashToHex(txHash),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Indices, nil
}

func (c *Client) GetRandomOutputs(ctx context.Context, amounts []uint64, outsPerAmount uint16) ([]AmountOutputs, error) {
	var resp struct {
		Outs []struct {
			Amount  uint64 `json:"amount"`
			Outputs []struct {
				GlobalIndex uint32 `json:"global_amount_index"`
				PublicKey   string `json:"public_key"`
			} `json:"outs"`
		} `json:"outs"`
	}
	err := c.call(ctx, "get_random_outputs", map[string]interface{}{
		"amounts":         amounts,
		"outs_per_amount": outsPerAmount,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]AmountOutputs, 0, len(resp.Outs))
	for _, ao := range resp.Outs {
		group := AmountOutputs{Amount: ao.Amount}
		for _, o := range ao.Outputs {
			pub, err := hexToPubKey(o.PublicKey)
			if err != nil {
				return nil, err
			}
			group.Outputs = append(group.Outputs, RandomOutput{GlobalIndex: o.GlobalIndex, PublicKey: pub})
		}
		out = append(out, group)
	}
	return out, nil
}

func (c *Client) RelayTransaction(ctx context.Context, tx []byte) error {
	return c.call(ctx, "send_raw_transaction", map[string]interface{}{
		"tx_as_hex": hex.EncodeToString(tx),
	}, nil)
}

func (c *Client) GetPoolSymmetricDifference(ctx context.Context, knownPoolIDs []cryptonote.Hash, tailBlock cryptonote.Hash) (PoolDiffResult, error) {
	ids := make([]string, len(knownPoolIDs))
	for i, h := range knownPoolIDs {
		ids[i] = hashToHex(h)
	}

	var resp struct {
		IsBcActual bool `json:"is_bc_actual"`
		AddedTxs   []struct {
			TxHash string `json:"tx_hash"`
			TxRaw  string `json:"tx_raw"`
		} `json:"added_txs"`
		DeletedIDs []string `json:"deleted_tx_ids"`
	}
	err := c.call(ctx, "get_pool_changes_lite", map[string]interface{}{
		"known_txs_ids": ids,
		"tail_block_id": hashToHex(tailBlock),
	}, &resp)
	if err != nil {
		return PoolDiffResult{}, err
	}

	out := PoolDiffResult{IsBcActual: resp.IsBcActual}
	for _, tx := range resp.AddedTxs {
		h, err := hexToHash(tx.TxHash)
		if err != nil {
			return PoolDiffResult{}, err
		}
		raw, err := hex.DecodeString(tx.TxRaw)
		if err != nil {
			return PoolDiffResult{}, fmt.Errorf("node: decode added tx raw: %w", err)
		}
		out.NewTxs = append(out.NewTxs, TxReader{TxHash: h, TxRaw: raw})
	}
	for _, id := range resp.DeletedIDs {
		h, err := hexToHash(id)
		if err != nil {
			return PoolDiffResult{}, err
		}
		out.DeletedIDs = append(out.DeletedIDs, h)
	}
	return out, nil
}

func (c *Client) GetBlockHashesByTimestamps(ctx context.Context, begin uint64, seconds uint64) ([]cryptonote.Hash, error) {
	var resp struct {
		Hashes []string `json:"block_hashes"`
	}
	err := c.call(ctx, "get_block_hashes_by_timestamps", map[string]interface{}{
		"timestamp_begin": begin,
		"seconds_count":   seconds,
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]cryptonote.Hash, 0, len(resp.Hashes))
	for _, s := range resp.Hashes {
		h, err := hexToHash(s)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (c *Client) GetTransactionHashesByPaymentID(ctx context.Context, id [32]byte) ([]cryptonote.Hash, error) {
	var resp struct {
		Hashes []string `json:"transaction_hashes"`
	}
	err := c.call(ctx, "get_transaction_hashes_by_payment_id", map[string]interface{}{
		"payment_id": hex.EncodeToString(id[:]),
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make([]cryptonote.Hash, 0, len(resp.Hashes))
	for _, s := range resp.Hashes {
		h, err := hexToHash(s)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

var _ Node = (*Client)(nil)
