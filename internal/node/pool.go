package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"github.com/loglos/raiden/internal/pfs"
	"github.com/loglos/raiden/internal/scenario"
)

// Pool is the ordered, index-addressable set of node controllers for one run.
// Indices are stable: they are assigned once at provisioning and never move.
type Pool struct {
	mode  scenario.NodeMode
	nodes []*Controller
}

// Provision builds the pool described by conf and waits until every node
// answers its address endpoint. In external mode the given endpoints are used
// as-is; in managed mode endpoints are derived from base_port.
func Provision(ctx context.Context, conf scenario.NodesConf, pfsClient *pfs.Client, log *slog.Logger) (*Pool, error) {
	var urls []string
	switch conf.Mode {
	case scenario.ModeExternal:
		urls = conf.List
	case scenario.ModeManaged:
		for i := 0; i < conf.Count; i++ {
			urls = append(urls, fmt.Sprintf("http://127.0.0.1:%d", conf.BasePort+i))
		}
	default:
		return nil, fmt.Errorf("provision: unknown node mode %q", conf.Mode)
	}

	p := &Pool{mode: conf.Mode}
	for i, u := range urls {
		p.nodes = append(p.nodes, NewController(i, u, pfsClient))
	}

	for _, c := range p.nodes {
		addr, err := waitReady(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("provision: node %d at %s not ready: %w", c.Index(), c.BaseURL(), err)
		}
		log.Info("node ready", "index", c.Index(), "url", c.BaseURL(), "address", addr)
	}
	return p, nil
}

// waitReady polls the node's address endpoint until it answers and returns
// the address it reported.
func waitReady(ctx context.Context, c *Controller) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 60 * time.Second
	var addr string
	err := backoff.Retry(func() error {
		a, err := c.Address(ctx)
		if err != nil {
			return err
		}
		addr = a
		return nil
	}, backoff.WithContext(bo, ctx))
	return addr, err
}

// Node returns the controller at index i.
func (p *Pool) Node(i int) (*Controller, error) {
	if i < 0 || i >= len(p.nodes) {
		return nil, fmt.Errorf("node index %d out of range (pool size %d)", i, len(p.nodes))
	}
	return p.nodes[i], nil
}

// Address resolves a pool index to the node's on-chain address.
func (p *Pool) Address(ctx context.Context, i int) (string, error) {
	c, err := p.Node(i)
	if err != nil {
		return "", err
	}
	return c.Address(ctx)
}

// Len returns the pool size.
func (p *Pool) Len() int { return len(p.nodes) }

// Teardown shuts managed nodes down, best effort. External pools are left
// running; their lifecycle belongs to whoever started them.
func (p *Pool) Teardown(ctx context.Context) error {
	if p.mode != scenario.ModeManaged {
		return nil
	}
	var result *multierror.Error
	for _, c := range p.nodes {
		if err := c.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
