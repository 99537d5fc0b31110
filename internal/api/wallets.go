package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"go.uber.org/zap"
)

// Funder credits wallets from outside the payment rail. Only the in-memory
// rail provides one; real rails are funded by their own operators.
type Funder interface {
	Deposit(account string, amount uint64)
	Balance(account string) uint64
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

type walletView struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

// deposit lets the registry admin credit an identity's wallet.
func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	if h.funder == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "rail does not accept deposits"})
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if who != h.ledger.Registry().Admin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only the registry admin may deposit"})
		return
	}
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}
	account := payment.WalletAccount(chi.URLParam(r, "id"))
	h.funder.Deposit(account, req.Amount)
	h.logger.Info("wallet funded", zap.String("account", account), zap.Uint64("amount", req.Amount))
	writeJSON(w, http.StatusOK, walletView{Account: account, Balance: h.funder.Balance(account)})
}
