package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/escalation"
	"github.com/m-mizutani/tribunal/trace"
)

// reviewer is the part of escalation.Manager the review API needs.
type reviewer interface {
	List(ctx context.Context, status escalation.Status) ([]escalation.Pending, error)
	Get(ctx context.Context, id string) (*escalation.Pending, error)
	Resume(ctx context.Context, id string, d tribunal.HumanDecision) error
}

type serverOption func(*server)

func withAddr(addr string) serverOption {
	return func(s *server) {
		s.addr = addr
	}
}

func withTraces(repo trace.Repository) serverOption {
	return func(s *server) {
		s.traces = repo
	}
}

// server is the review API through which humans resolve escalations.
type server struct {
	addr        string
	escalations reviewer
	traces      trace.Repository
	mux         *http.ServeMux
}

func newServer(escalations reviewer, opts ...serverOption) *server {
	s := &server{
		addr:        ":18900",
		escalations: escalations,
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/escalations", s.handleListEscalations)
	s.mux.HandleFunc("GET /api/escalations/{id}", s.handleGetEscalation)
	s.mux.HandleFunc("POST /api/escalations/{id}/resolve", s.handleResolveEscalation)
	s.mux.HandleFunc("GET /api/traces", s.handleListTraces)
	s.mux.HandleFunc("GET /api/traces/{id}", s.handleGetTrace)
}

func (s *server) handler() http.Handler {
	return s.mux
}

// start serves until ctx is done.
func (s *server) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.V("addr", s.addr))
	}

	logger := ctxlog.From(ctx)
	logger.Info("starting review API", "addr", listener.Addr().String())

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return goerr.Wrap(err, "server error")
	}
	return nil
}
