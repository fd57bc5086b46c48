package main

import (
	"net/http"

	"github.com/urfave/cli/v3"
)

type ListEscalationsResponse = listEscalationsResponse
type ListTracesResponse = listTracesResponse

var (
	NewServer  = newServer
	WithTraces = withTraces
)

// Handler returns the server's HTTP handler for testing.
func (s *server) Handler() http.Handler {
	return s.handler()
}

// NewApp returns the root command for testing.
func NewApp() *cli.Command {
	return newApp()
}
