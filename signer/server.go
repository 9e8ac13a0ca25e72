package signer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/crypto"
	"github.com/nutsnode/mintcore/mint/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// MaxMessages bounds the size of a single signing request. The mint
// rejects larger batches before calling.
const MaxMessages = cashu.MaxBatchSize

// Server signs blinded messages with keysets held in a KeyManager. It
// is the only process with access to the private keys.
type Server struct {
	UnimplementedSignerServer
	keys   *crypto.KeyManager
	logger zerolog.Logger
}

func NewServer(keys *crypto.KeyManager, logger zerolog.Logger) *Server {
	return &Server{keys: keys, logger: logger}
}

func (s *Server) SignBlindedMessages(ctx context.Context, in *SignRequest) (*SignResponse, error) {
	if s == nil || s.keys == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing key material")
	}
	if len(in.Messages) > MaxMessages {
		return nil, status.Errorf(codes.InvalidArgument, "too many messages: %d", len(in.Messages))
	}

	signatures := make([][]byte, len(in.Messages))
	for i, msg := range in.Messages {
		C_, err := s.sign(msg)
		if err != nil {
			s.logger.Debug().Err(err).Int("index", i).Msg("refused to sign")
			return nil, err
		}
		signatures[i] = C_.SerializeCompressed()
	}

	s.logger.Debug().Int("messages", len(signatures)).Msg("signed blinded messages")
	return &SignResponse{Signatures: signatures}, nil
}

func (s *Server) sign(msg BlindedMessage) (*secp256k1.PublicKey, error) {
	id, err := cashu.KeysetIdFromBytes(msg.KeysetId)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	keyset, ok := s.keys.Keyset(id.String())
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown keyset %v", id)
	}
	if !keyset.Active {
		return nil, status.Errorf(codes.FailedPrecondition, "keyset %v is inactive", id)
	}
	k, err := keyset.Key(msg.Amount)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	B_, err := secp256k1.ParsePubKey(msg.B_)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid B_: %v", err)
	}
	return crypto.SignBlindedMessage(B_, k), nil
}

// WatchKeysetEvents applies keyset activation changes announced by the
// mints until ctx is done or sub is closed.
func (s *Server) WatchKeysetEvents(ctx context.Context, sub *pubsub.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.GetMessages():
			if !ok {
				return
			}
			event, err := pubsub.DecodeKeysetEvent(msg)
			if err != nil {
				s.logger.Warn().Err(err).Msg("undecodable keyset event")
				continue
			}
			if s.keys.SetActive(event.Id.String(), event.Active) {
				s.logger.Info().
					Str("keyset_id", event.Id.String()).
					Bool("active", event.Active).
					Msg("keyset state changed")
			}
		}
	}
}

// NewGRPCServer returns a gRPC server with the signer service and a
// health service registered.
func NewGRPCServer(srv *Server, options ...grpc.ServerOption) *grpc.Server {
	options = append(options, grpc.ChainUnaryInterceptor(srv.logCalls))
	server := grpc.NewServer(options...)
	RegisterSignerServer(server, srv)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	return server
}

// Serve listens on address until ctx is done, then stops gracefully.
func Serve(ctx context.Context, server *grpc.Server, address string, logger zerolog.Logger) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	logger.Info().Msgf("signer listening on: %v", lis.Addr())
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) logCalls(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	event := s.logger.Debug()
	if status.Code(err) == codes.Internal || status.Code(err) == codes.Unknown {
		event = s.logger.Error()
	}
	event.Err(err).
		Str("method", info.FullMethod).
		Dur("duration", time.Since(start)).
		Msg("rpc served")
	return resp, err
}
