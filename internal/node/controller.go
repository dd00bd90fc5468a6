// Package node drives one payment-channel node through its HTTP API and
// manages the index-addressable pool of such nodes.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loglos/raiden/internal/metrics"
	"github.com/loglos/raiden/internal/pfs"
)

// ChannelState is one direction of a channel as the node reports it.
type ChannelState struct {
	Partner      string `json:"partner_address"`
	TotalDeposit uint64 `json:"total_deposit"`
	Balance      uint64 `json:"balance"`
	State        string `json:"state"`
}

// Controller represents one network participant. It issues channel operations
// and queries against the node's HTTP API. A mutex serializes mutating calls
// so two parallel scenario branches may safely target the same node index.
type Controller struct {
	index int
	base  string
	http  *http.Client
	pfs   *pfs.Client

	mu      sync.Mutex
	address string // cached after first successful fetch
}

// NewController creates a Controller for the node API at base.
// The pfs client may be nil when the scenario never queries the service.
func NewController(index int, base string, pfsClient *pfs.Client) *Controller {
	return &Controller{
		index: index,
		base:  base,
		http:  &http.Client{Timeout: 30 * time.Second},
		pfs:   pfsClient,
	}
}

// Index returns this controller's position in the pool.
func (c *Controller) Index() int { return c.index }

// BaseURL returns the node API endpoint.
func (c *Controller) BaseURL() string { return c.base }

// Address returns the node's on-chain address, fetching it on first use.
// Node identity is stable for the lifetime of a run, so the value is cached.
func (c *Controller) Address(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != "" {
		return c.address, nil
	}
	var out struct {
		OurAddress string `json:"our_address"`
	}
	if err := c.get(ctx, "address", "/api/v1/address", &out); err != nil {
		return "", err
	}
	if out.OurAddress == "" {
		return "", fmt.Errorf("node %d: address: empty response", c.index)
	}
	c.address = out.OurAddress
	return c.address, nil
}

// OpenChannel asks the node to open a channel toward peer with the given
// total deposit. It returns once the node accepts the request; on-chain
// confirmation is observed later via assertions.
func (c *Controller) OpenChannel(ctx context.Context, peer string, totalDeposit uint64) error {
	body := map[string]interface{}{
		"partner_address": peer,
		"total_deposit":   totalDeposit,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, "open_channel", http.MethodPut, "/api/v1/channels", body, nil)
}

// Deposit raises the total deposit toward peer.
func (c *Controller) Deposit(ctx context.Context, peer string, totalDeposit uint64) error {
	body := map[string]interface{}{"total_deposit": totalDeposit}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, "deposit", http.MethodPatch, "/api/v1/channels/"+peer, body, nil)
}

// Withdraw raises the total withdraw toward peer, reducing channel capacity.
func (c *Controller) Withdraw(ctx context.Context, peer string, totalWithdraw uint64) error {
	body := map[string]interface{}{"total_withdraw": totalWithdraw}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, "withdraw", http.MethodPatch, "/api/v1/channels/"+peer, body, nil)
}

// CloseChannel requests a cooperative close of the channel with peer.
func (c *Controller) CloseChannel(ctx context.Context, peer string) error {
	body := map[string]interface{}{"state": "closed"}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, "close_channel", http.MethodPatch, "/api/v1/channels/"+peer, body, nil)
}

// Transfer initiates a payment of amount to peer and returns a transfer
// identifier immediately. Completion is observed via assertions, not here.
func (c *Controller) Transfer(ctx context.Context, peer string, amount uint64) (string, error) {
	body := map[string]interface{}{"amount": amount}
	var out struct {
		Identifier string `json:"identifier"`
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(ctx, "transfer", http.MethodPost, "/api/v1/payments/"+peer, body, &out); err != nil {
		return "", err
	}
	if out.Identifier == "" {
		// Older node versions omit the identifier; synthesize one so the
		// report can still reference the transfer.
		out.Identifier = uuid.New().String()
	}
	return out.Identifier, nil
}

// QueryChannel returns the channel state toward peer as the node reports it
// right now. No client-side caching: every call hits the node.
func (c *Controller) QueryChannel(ctx context.Context, peer string) (ChannelState, error) {
	var out ChannelState
	if err := c.get(ctx, "query_channel", "/api/v1/channels/"+peer, &out); err != nil {
		return ChannelState{}, err
	}
	return out, nil
}

// Tokens lists the token networks the node has registered.
func (c *Controller) Tokens(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, "tokens", "/api/v1/tokens", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DepositUDC deposits service tokens into the user-deposit contract.
func (c *Controller) DepositUDC(ctx context.Context, amount uint64) error {
	body := map[string]interface{}{"total_deposit": amount}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, "udc_deposit", http.MethodPost, "/api/v1/user_deposit", body, nil)
}

// Shutdown asks the node process to exit. Best effort, managed mode only.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, "shutdown", http.MethodPost, "/api/v1/shutdown", nil, nil)
}

// PFSRoutes queries the path-finding service for routes from this node.
func (c *Controller) PFSRoutes(ctx context.Context, target string, amount uint64, maxPaths int) ([]pfs.Route, error) {
	if c.pfs == nil {
		return nil, fmt.Errorf("node %d: no path-finding service configured", c.index)
	}
	source, err := c.Address(ctx)
	if err != nil {
		return nil, err
	}
	return c.pfs.Routes(ctx, source, target, amount, maxPaths)
}

// PFSHistory returns the service's log of past requests issued by this node
// for the given target.
func (c *Controller) PFSHistory(ctx context.Context, target string) ([]pfs.HistoryEntry, error) {
	if c.pfs == nil {
		return nil, fmt.Errorf("node %d: no path-finding service configured", c.index)
	}
	source, err := c.Address(ctx)
	if err != nil {
		return nil, err
	}
	return c.pfs.History(ctx, source, target)
}

func (c *Controller) get(ctx context.Context, op, path string, out interface{}) error {
	return c.do(ctx, op, http.MethodGet, path, nil, out)
}

func (c *Controller) send(ctx context.Context, op, method, path string, body, out interface{}) error {
	return c.do(ctx, op, method, path, body, out)
}

func (c *Controller) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("node %d: %s: %w", c.index, op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("node %d: %s: %w", c.index, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.NodeRequests.WithLabelValues(op, "unreachable").Inc()
		return &Unreachable{Node: c.index, Op: op, Err: err}
	}
	defer resp.Body.Close()

	metrics.NodeRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Accepted.
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RequestRejected{Node: c.index, Op: op, Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	default:
		return fmt.Errorf("node %d: %s: unexpected status %d", c.index, op, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("node %d: %s: decode: %w", c.index, op, err)
		}
	}
	return nil
}
