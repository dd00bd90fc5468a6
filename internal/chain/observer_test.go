package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeChain answers eth_blockNumber, advancing one block per query.
func fakeChain(t *testing.T, start uint64, advance bool) (*httptest.Server, *atomic.Uint64) {
	t.Helper()
	var height atomic.Uint64
	height.Store(start)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "eth_blockNumber" {
			t.Errorf("method = %q", req.Method)
		}
		h := height.Load()
		if advance {
			height.Add(1)
		}
		json.NewEncoder(w).Encode(rpcResponse{Result: fmt.Sprintf("0x%x", h)})
	}))
	t.Cleanup(srv.Close)
	return srv, &height
}

func TestBlockNumber(t *testing.T) {
	srv, _ := fakeChain(t, 0x1a, false)
	height, err := New(srv.URL).BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if height != 26 {
		t.Errorf("height = %d, want 26", height)
	}
}

func TestWaitBlocks(t *testing.T) {
	srv, _ := fakeChain(t, 100, true)
	o := New(srv.URL)
	o.PollInterval = time.Millisecond
	if err := o.WaitBlocks(context.Background(), 3); err != nil {
		t.Fatalf("WaitBlocks: %v", err)
	}
}

func TestWaitBlocks_CancelledContext(t *testing.T) {
	srv, _ := fakeChain(t, 100, false) // height never moves
	o := New(srv.URL)
	o.PollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := o.WaitBlocks(ctx, 1); err == nil {
		t.Error("expected error when the chain never advances")
	}
}

func TestBlockNumber_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": -32601, "message": "method not found"},
		})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).BlockNumber(context.Background()); err == nil {
		t.Error("expected rpc error")
	}
}
