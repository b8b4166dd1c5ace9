package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/dto"
	"github.com/GlebRadaev/vpnshop/pkg/utils"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

type Service interface {
	BalanceOf(ctx context.Context, userID int64) (int64, error)
	Purchases(ctx context.Context, userID int64, limit int) ([]domain.Purchase, error)
	Deposits(ctx context.Context, userID int64, limit int) ([]domain.Deposit, error)
}

type AdminHandler struct {
	ledgerService Service
}

func New(ledgerService Service) *AdminHandler {
	return &AdminHandler{
		ledgerService: ledgerService,
	}
}

func userID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func limit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxLimit {
		return 0, false
	}
	return n, true
}

// GetBalance godoc
//
//	@Summary		Get user balance
//	@Description	Retrieve the current balance of a bot user.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		int						true	"Telegram user id"
//	@Success		200	{object}	dto.BalanceResponseDTO	"Current balance"
//	@Failure		400	{object}	utils.Response			"Invalid user id"
//	@Failure		401	{object}	utils.Response			"Missing or invalid token"
//	@Failure		403	{object}	utils.Response			"Admin role required"
//	@Failure		500	{object}	utils.Response			"Internal server error"
//	@Router			/api/admin/users/{id}/balance [get]
func (h *AdminHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	balance, err := h.ledgerService.BalanceOf(r.Context(), id)
	if err != nil {
		zap.L().Error("Failed to get balance", zap.Int64("userID", id), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dto.BalanceResponseDTO{
		UserID:  id,
		Balance: balance,
	})
}

// GetPurchases godoc
//
//	@Summary		Get user purchases
//	@Description	Newest purchases first, trials included.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id		path		int							true	"Telegram user id"
//	@Param			limit	query		int							false	"Max rows (1-200)"
//	@Success		200		{array}		dto.PurchaseResponseDTO		"Purchases"
//	@Success		204		{object}	utils.Response				"Purchases not found"
//	@Failure		400		{object}	utils.Response				"Invalid user id or limit"
//	@Failure		401		{object}	utils.Response				"Missing or invalid token"
//	@Failure		403		{object}	utils.Response				"Admin role required"
//	@Failure		500		{object}	utils.Response				"Internal server error"
//	@Router			/api/admin/users/{id}/purchases [get]
func (h *AdminHandler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	n, ok := limit(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	purchases, err := h.ledgerService.Purchases(r.Context(), id, n)
	if err != nil {
		zap.L().Error("Failed to fetch purchases", zap.Int64("userID", id), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch purchases")
		return
	}

	if len(purchases) == 0 {
		utils.RespondWithError(w, http.StatusNoContent, "Purchases not found")
		return
	}

	response := make([]dto.PurchaseResponseDTO, len(purchases))
	for i, p := range purchases {
		response[i] = dto.PurchaseResponseDTO{
			ID:        p.ID,
			Kind:      p.Kind,
			Days:      p.Days,
			TargetID:  p.TargetID,
			Meta:      p.Meta,
			CreatedAt: p.CreatedAt,
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, response)
}

// GetDeposits godoc
//
//	@Summary		Get user deposits
//	@Description	Newest deposits first with their settlement status.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id		path		int						true	"Telegram user id"
//	@Param			limit	query		int						false	"Max rows (1-200)"
//	@Success		200		{array}		dto.DepositResponseDTO	"Deposits"
//	@Success		204		{object}	utils.Response			"Deposits not found"
//	@Failure		400		{object}	utils.Response			"Invalid user id or limit"
//	@Failure		401		{object}	utils.Response			"Missing or invalid token"
//	@Failure		403		{object}	utils.Response			"Admin role required"
//	@Failure		500		{object}	utils.Response			"Internal server error"
//	@Router			/api/admin/users/{id}/deposits [get]
func (h *AdminHandler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	n, ok := limit(r)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	deposits, err := h.ledgerService.Deposits(r.Context(), id, n)
	if err != nil {
		zap.L().Error("Failed to fetch deposits", zap.Int64("userID", id), zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch deposits")
		return
	}

	if len(deposits) == 0 {
		utils.RespondWithError(w, http.StatusNoContent, "Deposits not found")
		return
	}

	response := make([]dto.DepositResponseDTO, len(deposits))
	for i, d := range deposits {
		response[i] = dto.DepositResponseDTO{
			ID:        d.ID,
			Amount:    d.Amount,
			Status:    string(d.Status),
			Reference: d.Reference,
			CreatedAt: d.CreatedAt,
			PaidAt:    d.PaidAt,
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, response)
}
