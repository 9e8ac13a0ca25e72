package mint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint/pubsub"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	requestIdHeader = "X-Request-Id"
	maxBodySize     = 1 << 20
)

type MintServer struct {
	httpServer *http.Server
	router     *mux.Router
	websocket  *WebsocketManager
	mint       *Mint
	logger     zerolog.Logger
}

func SetupMintServer(m *Mint, addr string, logger zerolog.Logger) *MintServer {
	mintServer := &MintServer{mint: m, logger: logger}
	mintServer.setupHttpServer(addr)
	return mintServer
}

func (ms *MintServer) Start() error {
	ms.logger.Info().Msgf("mint server listening on: %v", ms.httpServer.Addr)
	err := ms.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (ms *MintServer) Shutdown(ctx context.Context) error {
	if ms.websocket != nil {
		ms.websocket.Close()
	}
	return ms.httpServer.Shutdown(ctx)
}

// EnableWebsocket serves keyset state subscriptions fed by bus on /v1/ws.
func (ms *MintServer) EnableWebsocket(bus *pubsub.PubSub) {
	ms.websocket = NewWebsocketManager(ms.mint, bus, ms.logger)
	ms.router.HandleFunc("/v1/ws", ms.websocket.serveWS).Methods(http.MethodGet)
}

func (ms *MintServer) setupHttpServer(addr string) {
	r := mux.NewRouter()
	r.Use(ms.requestLogger)

	r.HandleFunc("/v1/keysets", ms.getKeysets).Methods(http.MethodGet)
	r.HandleFunc("/v1/swap", ms.swapRequest).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	ms.router = r

	ms.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// requestLogger tags each request with an id and attaches a logger
// carrying it to the request context.
func (ms *MintServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		requestId := req.Header.Get(requestIdHeader)
		if _, err := uuid.Parse(requestId); err != nil {
			requestId = uuid.NewString()
		}
		rw.Header().Set(requestIdHeader, requestId)

		logger := ms.logger.With().
			Str("request_id", requestId).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Logger()

		start := time.Now()
		next.ServeHTTP(rw, req.WithContext(logger.WithContext(req.Context())))
		logger.Debug().Dur("duration", time.Since(start)).Msg("request served")
	})
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, req *http.Request, response []byte, logmsg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Write(response)
	zerolog.Ctx(req.Context()).Info().Msg(logmsg)
}

// writeErr writes err as a cashu error. Internal failures are logged
// with their cause and reported to the caller without it.
func (ms *MintServer) writeErr(rw http.ResponseWriter, req *http.Request, err error) {
	logger := zerolog.Ctx(req.Context())
	status := http.StatusBadRequest
	var cashuErr *cashu.Error

	var mintErr *Error
	if errors.As(err, &mintErr) {
		cashuErr = mintErr.CashuError()
		switch mintErr.Kind {
		case StoreFailure, SignerFailure:
			status = http.StatusServiceUnavailable
		case SignerContractViolation:
			status = http.StatusInternalServerError
		}
	} else if !errors.As(err, &cashuErr) {
		cashuErr = cashu.BuildCashuError(cashu.StandardErr.Detail, cashu.StandardErr.Code)
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Info().Err(err).Int("status", status).Msg("request rejected")
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(cashuErr)
}

func (ms *MintServer) getKeysets(rw http.ResponseWriter, req *http.Request) {
	keysets, err := ms.mint.Keysets(req.Context())
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(cashu.GetKeysetsResponse{Keysets: keysets})
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "returned keysets")
}

func (ms *MintServer) swapRequest(rw http.ResponseWriter, req *http.Request) {
	var swapReq cashu.PostSwapRequest
	if err := decodeJsonReqBody(req, &swapReq); err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	signatures, err := ms.mint.Swap(req.Context(), swapReq.Inputs, swapReq.Outputs)
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}

	jsonRes, err := json.Marshal(cashu.PostSwapResponse{Signatures: signatures})
	if err != nil {
		ms.writeErr(rw, req, err)
		return
	}
	ms.writeResponse(rw, req, jsonRes, "returned signatures on swap request")
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	if req.Body == nil {
		return emptyBodyErr()
	}
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return emptyBodyErr()
		}
		return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
	}
	return nil
}

func emptyBodyErr() *cashu.Error {
	return cashu.BuildCashuError(cashu.EmptyBodyErr.Detail, cashu.EmptyBodyErr.Code)
}
