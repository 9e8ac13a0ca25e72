package signer

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/nutsnode/mintcore/cashu"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// Insecure disables TLS. Only meant for a signer on the same host.
	Insecure bool
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
}

// Client calls a remote signer. It implements mint.BlindSigner.
type Client struct {
	cc     *grpc.ClientConn
	client SignerClient
}

func Dial(target string, opts DialOptions) (*Client, error) {
	var creds credentials.TransportCredentials
	if opts.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(&tls.Config{NextProtos: []string{"h2"}})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		dialOpts = append(dialOpts, grpc.WithBlock())
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewSignerClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// SignBlindedMessages sends all messages in one call. Deadlines come from
// ctx. Errors are returned as gRPC status errors.
func (c *Client) SignBlindedMessages(ctx context.Context, messages cashu.BlindedMessages) ([][]byte, error) {
	req := &SignRequest{Messages: make([]BlindedMessage, len(messages))}
	for i, msg := range messages {
		req.Messages[i] = BlindedMessage{
			KeysetId: msg.Id.Bytes(),
			Amount:   msg.Amount.Uint64(),
			B_:       msg.B_.Bytes(),
		}
	}

	reply, err := c.client.SignBlindedMessages(ctx, req)
	if err != nil {
		return nil, err
	}
	return reply.Signatures, nil
}
