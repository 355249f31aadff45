package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Client is a minimal Solana JSON-RPC client covering the handful of
// methods the raffle needs: entropy inputs and transfer lookups. Every call
// is context bounded; nothing here blocks indefinitely.
type Client struct {
	URL  string
	HTTP *http.Client

	nextID uint64
}

func NewClient(url string) *Client {
	return &Client{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc %s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("rpc %s: result: %w", method, err)
		}
	}
	return nil
}

// LatestBlockhash returns the newest blockhash at the given commitment.
func (c *Client) LatestBlockhash(ctx context.Context, commitment string) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []interface{}{map[string]string{"commitment": commitment}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

type PerfSample struct {
	NumSlots        uint64 `json:"numSlots"`
	NumTransactions uint64 `json:"numTransactions"`
}

// RecentPerformanceSamples returns recent network load statistics.
func (c *Client) RecentPerformanceSamples(ctx context.Context, limit int) ([]PerfSample, error) {
	var samples []PerfSample
	if err := c.call(ctx, "getRecentPerformanceSamples", []interface{}{limit}, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

type SignatureInfo struct {
	Signature string `json:"signature"`
	Err       any    `json:"err"`
}

// SignaturesForAddress lists the most recent confirmed transaction
// signatures touching an address, newest first.
func (c *Client) SignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	var infos []SignatureInfo
	params := []interface{}{
		address,
		map[string]interface{}{"limit": limit, "commitment": "confirmed"},
	}
	if err := c.call(ctx, "getSignaturesForAddress", params, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

type Transaction struct {
	Meta *struct {
		PreBalances  []uint64 `json:"preBalances"`
		PostBalances []uint64 `json:"postBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a confirmed transaction by signature; nil when the
// node does not know it.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	var tx *Transaction
	params := []interface{}{
		signature,
		map[string]interface{}{
			"commitment":                     "confirmed",
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.call(ctx, "getTransaction", params, &tx); err != nil {
		return nil, err
	}
	return tx, nil
}
