// Package dockergw is the container runtime gateway: a thin
// capability surface over the Docker engine that the installer and
// lifecycle controller drive directly, with no sidecar wrapper process.
package dockergw

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Client wraps the Docker SDK client with the operations this daemon needs.
type Client struct {
	cli *client.Client
}

// NewClient dials the Docker daemon over the given socket path.
func NewClient(socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost(fmt.Sprintf("unix://%s", socketPath)),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if _, err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}

	return &Client{cli: cli}, nil
}

// Close releases the underlying client's connections.
func (c *Client) Close() error { return c.cli.Close() }
