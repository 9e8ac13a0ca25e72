package mint

import (
	"context"
	"fmt"
	"time"

	"github.com/nutsnode/mintcore/cashu"
)

const DefaultSignerTimeout = 10 * time.Second

// BlindSigner is a client of the signing oracle. It returns one
// compressed point per message, in request order.
type BlindSigner interface {
	SignBlindedMessages(ctx context.Context, messages cashu.BlindedMessages) ([][]byte, error)
}

// SignerChannel serialises access to a BlindSigner. Concurrent callers
// queue and each call is bounded by the channel timeout.
type SignerChannel struct {
	signer  BlindSigner
	timeout time.Duration
	// single slot: holding it means exclusive use of the signer
	slot chan struct{}
}

func NewSignerChannel(signer BlindSigner, timeout time.Duration) *SignerChannel {
	if timeout <= 0 {
		timeout = DefaultSignerTimeout
	}
	return &SignerChannel{
		signer:  signer,
		timeout: timeout,
		slot:    make(chan struct{}, 1),
	}
}

// Sign sends messages to the signer in one round-trip. Transport errors,
// timeouts and cancellation while queued are reported as SignerFailure.
func (c *SignerChannel) Sign(ctx context.Context, messages cashu.BlindedMessages) ([][]byte, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, newError(SignerFailure, ctx.Err())
	}
	defer func() { <-c.slot }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	signatures, err := c.signer.SignBlindedMessages(ctx, messages)
	signerLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		signerRequests.WithLabelValues("error").Inc()
		return nil, newError(SignerFailure, fmt.Errorf("signing %d messages: %w", len(messages), err))
	}
	signerRequests.WithLabelValues("ok").Inc()
	return signatures, nil
}
