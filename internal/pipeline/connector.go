package pipeline

import (
	"context"

	"eventflow/internal/model"
	"eventflow/internal/source"
)

// clientSource adapts source.Client to the orchestrator's Source
// surface.
type clientSource struct {
	client *source.Client
}

func (c *clientSource) ChainHeight(ctx context.Context) (uint64, error) {
	return c.client.ChainHeight(ctx)
}

func (c *clientSource) OpenStream(cfg source.StreamConfig) (Stream, error) {
	return source.Open(c.client, cfg)
}

func (c *clientSource) Close() {
	c.client.Close()
}

// DialConnector returns the production connector: it dials the endpoint
// over RPC and serves streams from it.
func DialConnector() Connector {
	return func(ctx context.Context, ep model.Endpoint) (Source, error) {
		client, err := source.Dial(ctx, ep)
		if err != nil {
			return nil, err
		}
		return &clientSource{client: client}, nil
	}
}
