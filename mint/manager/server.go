package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint"
	"github.com/rs/zerolog"
)

// Server exposes keyset administration. It must only listen on an
// operator network.
type Server struct {
	httpServer *http.Server
	mint       *mint.Mint
	logger     zerolog.Logger
}

func SetupServer(m *mint.Mint, addr string, logger zerolog.Logger) *Server {
	s := &Server{mint: m, logger: logger}
	s.setupHttpServer(addr)
	return s
}

func (s *Server) Start() error {
	s.logger.Info().Msgf("admin server listening on: %v", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupHttpServer(addr string) {
	r := mux.NewRouter()

	r.HandleFunc("/keysets", s.getKeysets).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/keysets/{keyset_id}/deactivate", s.deactivateKeyset).Methods(http.MethodPost, http.MethodOptions)

	r.Use(setupHeaders)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(rw, req)
	})
}

// same response as /v1/keysets
func (s *Server) getKeysets(rw http.ResponseWriter, req *http.Request) {
	keysets, err := s.mint.Keysets(req.Context())
	if err != nil {
		s.writeErr(rw, err)
		return
	}
	response, _ := json.Marshal(cashu.GetKeysetsResponse{Keysets: keysets})
	rw.Write(response)
}

func (s *Server) deactivateKeyset(rw http.ResponseWriter, req *http.Request) {
	id, err := cashu.KeysetIdFromHex(mux.Vars(req)["keyset_id"])
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		errRes, _ := json.Marshal(cashu.UnknownKeysetErr)
		rw.Write(errRes)
		return
	}

	if err := s.mint.DeactivateKeyset(req.Context(), id); err != nil {
		s.writeErr(rw, err)
		return
	}
	s.logger.Info().Str("keyset_id", id.String()).Msg("keyset deactivated by operator")

	response, _ := json.Marshal(cashu.KeysetResponse{Id: id, Active: false})
	rw.Write(response)
}

func (s *Server) writeErr(rw http.ResponseWriter, err error) {
	cashuErr := cashu.StandardErr
	var mintErr *mint.Error
	if errors.As(err, &mintErr) && mintErr.Kind == mint.UnknownKeyset {
		cashuErr = *mintErr.CashuError()
		rw.WriteHeader(http.StatusNotFound)
	} else {
		s.logger.Error().Err(err).Msg("admin request failed")
		rw.WriteHeader(http.StatusInternalServerError)
	}
	errRes, _ := json.Marshal(cashuErr)
	rw.Write(errRes)
}
