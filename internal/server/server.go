// Package server is the HTTP front end: it maps inbound operation requests
// onto the append engine and read requests onto the query service.
package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/finvault/ledger/internal/ledger"
)

type Server struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

func New(l *ledger.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ledger: l, logger: logger}
}

// Handler returns the route table for the front end.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/transfers", s.handleTransfer)
	mux.HandleFunc("/operations", s.handleOperation)
	mux.HandleFunc("/accounts/balance", s.handleBalance)
	mux.HandleFunc("/accounts/entries", s.handleEntries)
	return mux
}
