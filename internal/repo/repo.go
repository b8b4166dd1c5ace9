package repo

import (
	"github.com/GlebRadaev/vpnshop/internal/pg"
	accountrepo "github.com/GlebRadaev/vpnshop/internal/repo/account-repo"
	depositrepo "github.com/GlebRadaev/vpnshop/internal/repo/deposit-repo"
	purchaserepo "github.com/GlebRadaev/vpnshop/internal/repo/purchase-repo"
	"github.com/GlebRadaev/vpnshop/internal/service/ledgerservice"
)

type Repositories struct {
	AccountRepo  ledgerservice.AccountRepo
	PurchaseRepo ledgerservice.PurchaseRepo
	DepositRepo  ledgerservice.DepositRepo
}

func New(conn pg.Database) *Repositories {
	return &Repositories{
		AccountRepo:  accountrepo.New(conn),
		PurchaseRepo: purchaserepo.New(conn),
		DepositRepo:  depositrepo.New(conn),
	}
}
