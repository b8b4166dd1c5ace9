package repo

import (
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountrepo "github.com/GlebRadaev/vpnshop/internal/repo/account-repo"
	depositrepo "github.com/GlebRadaev/vpnshop/internal/repo/deposit-repo"
	purchaserepo "github.com/GlebRadaev/vpnshop/internal/repo/purchase-repo"
)

func NewMock(t *testing.T) (*Repositories, pgxmock.PgxPoolIface) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)

	return New(mockDB), mockDB
}

func TestNew(t *testing.T) {
	repo, mock := NewMock(t)

	assert.IsType(t, &accountrepo.Repository{}, repo.AccountRepo)
	assert.IsType(t, &purchaserepo.Repository{}, repo.PurchaseRepo)
	assert.IsType(t, &depositrepo.Repository{}, repo.DepositRepo)

	assert.NoError(t, mock.ExpectationsWereMet())
}
