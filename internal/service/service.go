package service

import (
	"github.com/GlebRadaev/vpnshop/internal/pg"
	"github.com/GlebRadaev/vpnshop/internal/repo"
	"github.com/GlebRadaev/vpnshop/internal/service/ledgerservice"
)

type Services struct {
	LedgerService *ledgerservice.Service
}

func New(repo *repo.Repositories, txManager pg.TXManager) *Services {
	ledgerService := ledgerservice.New(repo.AccountRepo, repo.PurchaseRepo, repo.DepositRepo, txManager)

	return &Services{
		LedgerService: ledgerService,
	}
}
