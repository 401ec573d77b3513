package service

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin consumer-side handle for the CDC service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a producer node.
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.UseCompressor(zstdName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetChanges fetches the next batch of changes for a tablet.
func (c *Client) GetChanges(ctx context.Context, req *GetChangesRequest) (*GetChangesResponse, error) {
	resp := new(GetChangesResponse)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/GetChanges", req, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
