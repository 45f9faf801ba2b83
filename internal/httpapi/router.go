// Package httpapi exposes the savings layer to its host over HTTP.
// Identities in paths are trusted; authorization belongs to the deployment.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/account"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/calldata"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/ledger"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/models"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/roundup"
	"github.com/sheikh-saqib/roundup-savings-ledger/internal/subscription"
	log "github.com/sirupsen/logrus"
)

type Server struct {
	roundups      *roundup.Engine
	subscriptions *subscription.Ledger
	ledger        *ledger.Ledger
	executor      *account.Executor
}

func NewServer(roundups *roundup.Engine, subscriptions *subscription.Ledger, l *ledger.Ledger, executor *account.Executor) *Server {
	return &Server{
		roundups:      roundups,
		subscriptions: subscriptions,
		ledger:        l,
		executor:      executor,
	}
}

// Router builds the HTTP routes. rdb may be nil, which disables Idempotency-Key replay.
func (s *Server) Router(rdb *redis.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	idempotent := func(next http.Handler) http.Handler { return next }
	if rdb != nil {
		idempotent = Idempotency(rdb)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ledgerEntries", s.handleLedgerEntries)

	r.Route("/accounts/{account}", func(r chi.Router) {
		r.Get("/roundups", s.handleListRoundUps)
		r.Put("/roundups/{slot}", s.handleRegisterRoundUp)
		r.Get("/roundups/{slot}", s.handleGetRoundUp)
		r.Patch("/roundups/{slot}", s.handleToggleRoundUp)
		r.Post("/deposits", s.handleDeposit)
		r.Get("/balance", s.handleBalance)
		r.With(idempotent).Post("/execute", s.handleExecute)
	})

	r.Route("/payees/{payee}/subscriptions/{account}", func(r chi.Router) {
		r.Put("/", s.handleSubscribe)
		r.Get("/", s.handleGetSubscription)
		r.Delete("/", s.handleCancelSubscription)
		r.With(idempotent).Post("/collect", s.handleCollect)
	})

	return r
}

type automationResponse struct {
	Account            string `json:"account"`
	Slot               uint64 `json:"slot"`
	SavingsDestination string `json:"savings_destination"`
	RoundUpUnit        string `json:"round_up_unit"`
	Enabled            bool   `json:"enabled"`
}

func toAutomationResponse(a models.RoundUpAutomation) automationResponse {
	return automationResponse{
		Account:            a.Account.Hex(),
		Slot:               a.Slot,
		SavingsDestination: a.SavingsDestination.Hex(),
		RoundUpUnit:        a.RoundUpUnit.String(),
		Enabled:            a.Enabled,
	}
}

type subscriptionResponse struct {
	Payee    string    `json:"payee"`
	Account  string    `json:"account"`
	Amount   string    `json:"amount"`
	LastPaid time.Time `json:"last_paid"`
	Enabled  bool      `json:"enabled"`
}

type transactionResponse struct {
	ID     string `json:"id"`
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func toTransactionResponse(tx models.Transaction) transactionResponse {
	return transactionResponse{
		ID:     tx.ID,
		Asset:  tx.Asset.Hex(),
		From:   tx.FromAccount.Hex(),
		To:     tx.ToAccount.Hex(),
		Amount: tx.Amount.String(),
	}
}

func (s *Server) handleRegisterRoundUp(w http.ResponseWriter, r *http.Request) {
	acct, slot, ok := accountAndSlot(w, r)
	if !ok {
		return
	}
	var req struct {
		Destination string `json:"destination"`
		Unit        string `json:"unit"`
	}
	if !decode(w, r, &req) {
		return
	}
	destination, err := parseAddress(req.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	unit, err := parseUint256(req.Unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.roundups.Register(r.Context(), acct, slot, destination, unit); err != nil {
		writeDomainError(w, err)
		return
	}
	log.WithFields(log.Fields{"account": acct.Hex(), "slot": slot}).Info("Round-up automation registered")

	a, err := s.roundups.Automation(r.Context(), acct, slot)
	if err != nil || a == nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAutomationResponse(*a))
}

func (s *Server) handleGetRoundUp(w http.ResponseWriter, r *http.Request) {
	acct, slot, ok := accountAndSlot(w, r)
	if !ok {
		return
	}
	a, err := s.roundups.Automation(r.Context(), acct, slot)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %d", roundup.ErrNoAutomation, slot))
		return
	}
	writeJSON(w, http.StatusOK, toAutomationResponse(*a))
}

func (s *Server) handleListRoundUps(w http.ResponseWriter, r *http.Request) {
	acct, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.roundups.Automations(r.Context(), acct)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]automationResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAutomationResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleToggleRoundUp(w http.ResponseWriter, r *http.Request) {
	acct, slot, ok := accountAndSlot(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is a mandatory field")
		return
	}
	if err := s.roundups.SetEnabled(r.Context(), acct, slot, *req.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	log.WithFields(log.Fields{"account": acct.Hex(), "slot": slot, "enabled": *req.Enabled}).Info("Round-up automation toggled")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	acct, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	asset := models.NativeAsset
	if req.Asset != "" {
		if asset, err = parseAddress(req.Asset); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	amount, err := parseUint256(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ledger.Deposit(r.Context(), acct, asset, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset := models.NativeAsset
	if q := r.URL.Query().Get("asset"); q != "" {
		if asset, err = parseAddress(q); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	balance, err := s.ledger.GetBalance(r.Context(), acct, asset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": acct.Hex(),
		"asset":      asset.Hex(),
		"balance":    balance.String(),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	acct, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Calldata string `json:"calldata"`
	}
	if !decode(w, r, &req) {
		return
	}
	payload, err := hexutil.Decode(req.Calldata)
	if err != nil {
		writeError(w, http.StatusBadRequest, "calldata must be 0x-prefixed hex")
		return
	}

	result, err := s.executor.Execute(r.Context(), acct, payload, r.Header.Get(IdempotencyHeader))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := struct {
		Primary   *transactionResponse  `json:"primary,omitempty"`
		Secondary []transactionResponse `json:"secondary"`
		Failed    []string              `json:"failed,omitempty"`
		Replayed  bool                  `json:"replayed"`
	}{Secondary: []transactionResponse{}, Replayed: result.Replayed}
	if result.Primary != nil {
		p := toTransactionResponse(*result.Primary)
		resp.Primary = &p
	}
	for _, tx := range result.Secondary {
		resp.Secondary = append(resp.Secondary, toTransactionResponse(tx))
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, f.Err.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	payee, acct, ok := payeeAndAccount(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseUint256(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.subscriptions.Subscribe(r.Context(), payee, acct, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	log.WithFields(log.Fields{"payee": payee.Hex(), "account": acct.Hex(), "amount": amount.String()}).Info("Subscription registered")
	s.writeSubscription(w, r, payee, acct)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	payee, acct, ok := payeeAndAccount(w, r)
	if !ok {
		return
	}
	s.writeSubscription(w, r, payee, acct)
}

func (s *Server) writeSubscription(w http.ResponseWriter, r *http.Request, payee, acct common.Address) {
	sub, err := s.subscriptions.Subscription(r.Context(), payee, acct)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sub == nil {
		writeDomainError(w, subscription.ErrUnknownOrDisabledSubscription)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{
		Payee:    sub.Payee.Hex(),
		Account:  sub.Account.Hex(),
		Amount:   sub.Amount.String(),
		LastPaid: sub.LastPaid,
		Enabled:  sub.Enabled,
	})
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	payee, acct, ok := payeeAndAccount(w, r)
	if !ok {
		return
	}
	if err := s.subscriptions.Cancel(r.Context(), payee, acct); err != nil {
		writeDomainError(w, err)
		return
	}
	log.WithFields(log.Fields{"payee": payee.Hex(), "account": acct.Hex()}).Info("Subscription cancelled")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	payee, acct, ok := payeeAndAccount(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	amount, err := parseUint256(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := s.executor.Collect(r.Context(), payee, acct, amount, r.Header.Get(IdempotencyHeader))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tx == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"replayed": true})
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(*tx))
}

func (s *Server) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.GetLedgerEntries(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type entryResponse struct {
		ID            string    `json:"id"`
		TransactionID string    `json:"transaction_id,omitempty"`
		AccountID     string    `json:"account_id"`
		Asset         string    `json:"asset"`
		Amount        string    `json:"amount"`
		CreatedAt     time.Time `json:"created_at"`
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:            e.ID,
			TransactionID: e.TransactionID,
			AccountID:     e.AccountID.Hex(),
			Asset:         e.Asset.Hex(),
			Amount:        e.Amount.String(),
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func accountAndSlot(w http.ResponseWriter, r *http.Request) (common.Address, uint64, bool) {
	acct, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, 0, false
	}
	slot, err := strconv.ParseUint(chi.URLParam(r, "slot"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "slot must be an unsigned integer")
		return common.Address{}, 0, false
	}
	return acct, slot, true
}

func payeeAndAccount(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, bool) {
	payee, err := parseAddress(chi.URLParam(r, "payee"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, common.Address{}, false
	}
	acct, err := parseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, common.Address{}, false
	}
	return payee, acct, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseUint256(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("invalid amount %q: want a base-10 uint256", s)
	}
	return n, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeError(w, http.StatusInternalServerError, "internal error")
	case errors.Is(err, calldata.ErrMalformedInstructionPayload), errors.Is(err, account.ErrUnsupportedInstruction):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, subscription.ErrPrematureCollection), errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, subscription.ErrUnknownOrDisabledSubscription), errors.Is(err, roundup.ErrNoAutomation):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, subscription.ErrNegativeAmount), errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
