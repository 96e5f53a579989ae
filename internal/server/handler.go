package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/finvault/ledger/internal/models"
)

const (
	defaultEntriesLimit = 50

	eventTypeDebit  = "transfer.debit"
	eventTypeCredit = "transfer.credit"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type transferRequest struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      string `json:"amount"` // major units, e.g. "10.50"
	Currency    string `json:"currency"`
}

type operationRequest struct {
	Entries []models.EntryInput `json:"entries"`
}

type operationResponse struct {
	OperationID string `json:"operation_id"`
}

// handleTransfer maps the two-sided transfer shape onto a debit entry and a
// credit entry written atomically.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		s.writeBadRequest(w, "Idempotency-Key header is required")
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}

	cents, err := parseAmountCents(req.Amount)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return
	}
	if cents <= 0 {
		s.writeBadRequest(w, "amount must be positive")
		return
	}

	entries := []models.EntryInput{
		{AccountID: req.FromAccount, AmountCents: -cents, Currency: req.Currency, EventType: eventTypeDebit},
		{AccountID: req.ToAccount, AmountCents: cents, Currency: req.Currency, EventType: eventTypeCredit},
	}

	operationID, err := s.ledger.AppendOperation(r.Context(), entries, idempotencyKey)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, operationResponse{OperationID: operationID})
}

// handleOperation accepts the generic shape: an arbitrary non-empty entry
// list appended as one atomic operation.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		s.writeBadRequest(w, "Idempotency-Key header is required")
		return
	}

	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}

	operationID, err := s.ledger.AppendOperation(r.Context(), req.Entries, idempotencyKey)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, operationResponse{OperationID: operationID})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		s.writeBadRequest(w, "account_id is a mandatory field")
		return
	}

	balance, err := s.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		AccountID    string `json:"account_id"`
		BalanceCents int64  `json:"balance_cents"`
	}{AccountID: accountID, BalanceCents: balance})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		s.writeBadRequest(w, "account_id is a mandatory field")
		return
	}

	limit, err := queryInt(r, "limit", defaultEntriesLimit)
	if err != nil {
		s.writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	entries, err := s.ledger.GetEntries(r.Context(), accountID, limit, offset)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	s.writeJSON(w, http.StatusOK, struct {
		AccountID string               `json:"account_id"`
		Entries   []models.LedgerEntry `json:"entries"`
	}{AccountID: accountID, Entries: entries})
}

// parseAmountCents converts a major-unit decimal amount to cents, rejecting
// anything that does not land exactly on a cent.
func parseAmountCents(amount string) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, errInvalidAmount
	}
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, errSubCentAmount
	}
	return cents.IntPart(), nil
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errInvalidQueryInt
	}
	return v, nil
}
