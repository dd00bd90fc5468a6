// Package chain observes block height on the underlying chain via a
// JSON-RPC endpoint. The runner never submits transactions itself; block
// height only gates wait_blocks tasks.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Observer reports the current block number of one chain endpoint.
type Observer struct {
	rpc  string
	http *http.Client

	// PollInterval is the delay between height checks in WaitBlocks.
	PollInterval time.Duration
}

// New creates an Observer for the JSON-RPC endpoint at rpc.
func New(rpc string) *Observer {
	return &Observer{
		rpc:          rpc,
		http:         &http.Client{Timeout: 10 * time.Second},
		PollInterval: time.Second,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// BlockNumber returns the chain's current block height.
func (o *Observer) BlockNumber(ctx context.Context) (uint64, error) {
	body, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: "eth_blockNumber", ID: 1})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.rpc, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("block number: unexpected status %d", resp.StatusCode)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("block number: decode: %w", err)
	}
	if out.Error != nil {
		return 0, fmt.Errorf("block number: rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	height, err := strconv.ParseUint(strings.TrimPrefix(out.Result, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("block number: parse %q: %w", out.Result, err)
	}
	return height, nil
}

// WaitBlocks blocks until the chain has advanced n blocks past the height
// observed on entry, or the context is cancelled.
func (o *Observer) WaitBlocks(ctx context.Context, n int) error {
	start, err := o.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("wait_blocks: %w", err)
	}
	target := start + uint64(n)

	bo := backoff.WithContext(backoff.NewConstantBackOff(o.PollInterval), ctx)
	return backoff.Retry(func() error {
		height, err := o.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if height < target {
			return fmt.Errorf("wait_blocks: at block %d, waiting for %d", height, target)
		}
		return nil
	}, bo)
}
