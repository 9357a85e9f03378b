// Package source opens cursor-based pull streams of raw log records
// against one remote endpoint at a time.
package source

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"eventflow/internal/model"
)

// Client wraps the remote RPC connection for one endpoint.
type Client struct {
	endpoint  model.Endpoint
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	closeOnce sync.Once
}

// Dial connects to the given endpoint, attaching its auth token when
// configured.
func Dial(ctx context.Context, ep model.Endpoint) (*Client, error) {
	opts := []rpc.ClientOption{}
	if ep.AuthToken != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+ep.AuthToken))
	}

	rpcClient, err := rpc.DialOptions(ctx, ep.URL, opts...)
	if err != nil {
		return nil, Classify(err)
	}

	return &Client{
		endpoint:  ep,
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// Endpoint returns the endpoint this client is connected to.
func (c *Client) Endpoint() model.Endpoint {
	return c.endpoint
}

// ChainHeight returns the highest block number currently known to the
// source.
func (c *Client) ChainHeight(ctx context.Context) (uint64, error) {
	height, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, Classify(err)
	}
	return height, nil
}

// FilterLogs runs one range query against the source.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, Classify(err)
	}
	return logs, nil
}

// Close releases the connection. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.rpcClient != nil {
			c.rpcClient.Close()
		}
	})
}
