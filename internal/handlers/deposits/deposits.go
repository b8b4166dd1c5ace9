package deposits

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/dto"
	"github.com/GlebRadaev/vpnshop/internal/gateway"
	"github.com/GlebRadaev/vpnshop/internal/workflow/deposit"
	"github.com/GlebRadaev/vpnshop/pkg/utils"
)

const maxBody = 64 << 10

type Service interface {
	HandleCallback(ctx context.Context, reference string, status gateway.Status, amount int64, raw string) (bool, error)
}

type DepositHandler struct {
	depositService Service
}

func New(depositService Service) *DepositHandler {
	return &DepositHandler{
		depositService: depositService,
	}
}

// Callback godoc
//
//	@Summary		Payment gateway notification
//	@Description	Applies a deposit status pushed by the payment gateway. A deposit is credited at most once, whether the notification or the poller sees the payment first.
//	@Tags			Deposits
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.DepositCallbackRequestDTO	true	"Deposit status"
//	@Success		200		{object}	dto.DepositCallbackResponseDTO	"Notification applied"
//	@Failure		400		{object}	utils.Response					"Invalid request body"
//	@Failure		401		{object}	utils.Response					"Missing or invalid token"
//	@Failure		404		{object}	utils.Response					"Deposit not found"
//	@Failure		422		{object}	utils.Response					"Unknown status"
//	@Failure		500		{object}	utils.Response					"Internal server error"
//	@Router			/api/deposits/callback [post]
func (h *DepositHandler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var req dto.DepositCallbackRequestDTO
	if err := json.Unmarshal(body, &req); err != nil || req.Reference == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := gateway.Status(req.Status)
	switch status {
	case gateway.StatusPending, gateway.StatusSuccess, gateway.StatusExpired:
	default:
		utils.RespondWithError(w, http.StatusUnprocessableEntity, "Unknown status")
		return
	}

	settled, err := h.depositService.HandleCallback(r.Context(), req.Reference, status, req.Amount, string(body))
	if err != nil {
		switch {
		case errors.Is(err, deposit.ErrUnknownDeposit):
			utils.RespondWithError(w, http.StatusNotFound, "Deposit not found")
		default:
			zap.L().Error("Failed to apply deposit callback", zap.String("reference", req.Reference), zap.Error(err))
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dto.DepositCallbackResponseDTO{Settled: settled})
}
