// Package client is a Go SDK for the fhirgraph gRPC service.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rmax-ai/fhirgraph/pkg/api"
)

// DefaultTarget is the daemon's default listen address.
const DefaultTarget = "127.0.0.1:50051"

// Client talks to a fhirgraph daemon. Collections and Describe are retried on
// Unavailable; streaming row calls are not, since rows already delivered
// cannot be taken back.
type Client struct {
	conn     *grpc.ClientConn
	rpc      api.GRIPSourceClient
	backoff  BackoffStrategy
	attempts int
	dialOpts []grpc.DialOption
}

// Option configures a Client.
type Option func(*Client)

// WithBackoff replaces the retry strategy and attempt count.
func WithBackoff(b BackoffStrategy, attempts int) Option {
	return func(c *Client) {
		c.backoff = b
		if attempts > 0 {
			c.attempts = attempts
		}
	}
}

// WithDialOptions adds options used by Dial. Without any, the connection
// is plaintext.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOpts = append(c.dialOpts, opts...)
	}
}

func newClient(opts []Option) *Client {
	c := &Client{
		backoff:  DefaultBackoff(),
		attempts: DefaultAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to target, defaulting to DefaultTarget when empty.
func Dial(target string, opts ...Option) (*Client, error) {
	if target == "" {
		target = DefaultTarget
	}
	c := newClient(opts)
	dialOpts := c.dialOpts
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	c.conn = conn
	c.rpc = api.NewGRIPSourceClient(conn)
	return c, nil
}

// New wraps an existing connection. Close is then the caller's job.
func New(cc grpc.ClientConnInterface, opts ...Option) *Client {
	c := newClient(opts)
	c.rpc = api.NewGRIPSourceClient(cc)
	return c
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func isUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// Collections lists every collection name, vertices first.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	var names []string
	err := retry(ctx, c.backoff, c.attempts, isUnavailable, func() error {
		names = names[:0]
		stream, err := c.rpc.GetCollections(ctx, &api.Empty{})
		if err != nil {
			return err
		}
		return recvAll(stream, func(col *api.Collection) error {
			names = append(names, col.Name)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Describe returns the searchable fields of a collection.
func (c *Client) Describe(ctx context.Context, collection string) (CollectionInfo, error) {
	var info *api.CollectionInfo
	err := retry(ctx, c.backoff, c.attempts, isUnavailable, func() error {
		var err error
		info, err = c.rpc.GetCollectionInfo(ctx, &api.Collection{Name: collection})
		return err
	})
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{Name: collection, SearchFields: info.SearchFields}, nil
}

// IDs calls fn with every row id of a collection. An error from fn cancels
// the stream and is returned as is.
func (c *Client) IDs(ctx context.Context, collection string, fn func(string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.rpc.GetIDs(ctx, &api.Collection{Name: collection})
	if err != nil {
		return err
	}
	return recvAll(stream, func(id *api.RowID) error {
		return fn(id.ID)
	})
}

// Rows calls fn with every row of a collection.
func (c *Client) Rows(ctx context.Context, collection string, fn func(Row) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.rpc.GetRows(ctx, &api.Collection{Name: collection})
	if err != nil {
		return err
	}
	return recvAll(stream, func(r *api.Row) error {
		return fn(*r)
	})
}

// RowsByField calls fn with every row whose field equals value.
func (c *Client) RowsByField(ctx context.Context, collection, field, value string, fn func(Row) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.rpc.GetRowsByField(ctx, &api.FieldRequest{Collection: collection, Field: field, Value: value})
	if err != nil {
		return err
	}
	return recvAll(stream, func(r *api.Row) error {
		return fn(*r)
	})
}

// RowsByID sends reqs and calls fn for each row found, in arrival order.
// Ids that do not exist produce no call.
func (c *Client) RowsByID(ctx context.Context, reqs []RowRequest, fn func(Row) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.rpc.GetRowsByID(ctx)
	if err != nil {
		return err
	}

	sendErr := make(chan error, 1)
	go func() {
		for i := range reqs {
			if err := stream.Send(&reqs[i]); err != nil {
				// the real cause surfaces on Recv
				sendErr <- nil
				return
			}
		}
		sendErr <- stream.CloseSend()
	}()

	if err := recvAll(stream, func(r *api.Row) error { return fn(*r) }); err != nil {
		return err
	}
	return <-sendErr
}

type receiver[T any] interface {
	Recv() (*T, error)
}

func recvAll[T any](stream receiver[T], fn func(*T) error) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
