package httpapi

import (
	"net/http"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

type walletResponse struct {
	UserID       string `json:"user_id"`
	BalanceMinor int64  `json:"balance_minor"`
	Currency     string `json:"currency"`
}

type topUpRequest struct {
	AmountMinor int64 `json:"amount_minor"`
}

func (a *api) getWallet(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	balance, err := a.Wallet.GetBalance(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, walletResponse{UserID: userID, BalanceMinor: balance, Currency: a.Currency})
}

func (a *api) topUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AmountMinor <= 0 {
		respondDomainError(w, domain.NewValidationError("amount_minor", "must be positive"))
		return
	}

	userID := userFrom(r.Context())
	if err := a.Wallet.Credit(r.Context(), userID, req.AmountMinor); err != nil {
		respondDomainError(w, err)
		return
	}
	a.getWallet(w, r)
}
