package ledgerservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/pg"
	"github.com/stretchr/testify/assert"
	gomock "go.uber.org/mock/gomock"
)

type mocks struct {
	accounts  *MockAccountRepo
	purchases *MockPurchaseRepo
	deposits  *MockDepositRepo
	tx        *pg.MockTXManager
}

func NewMock(t *testing.T) (*Service, *mocks) {
	ctrl := gomock.NewController(t)
	m := &mocks{
		accounts:  NewMockAccountRepo(ctrl),
		purchases: NewMockPurchaseRepo(ctrl),
		deposits:  NewMockDepositRepo(ctrl),
		tx:        pg.NewMockTXManager(ctrl),
	}
	service := New(m.accounts, m.purchases, m.deposits, m.tx)
	return service, m
}

func passThroughTx(m *mocks) {
	m.tx.EXPECT().Begin(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, fn pg.TransactionalFn) error {
		return fn(ctx)
	})
}

func TestEnsureAccount(t *testing.T) {
	service, m := NewMock(t)

	m.accounts.EXPECT().Upsert(gomock.Any(), int64(1), "Alice").Return(&domain.Account{UserID: 1, Name: "Alice"}, nil)
	account, err := service.EnsureAccount(context.Background(), 1, "Alice")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), account.UserID)

	m.accounts.EXPECT().Upsert(gomock.Any(), int64(1), "Alice").Return(nil, errors.New("db error"))
	_, err = service.EnsureAccount(context.Background(), 1, "Alice")
	assert.Error(t, err)
}

func TestBalanceOf(t *testing.T) {
	tests := []struct {
		name        string
		prepareMock func(m *mocks)
		expected    int64
		expectErr   bool
	}{
		{
			name: "Existing account",
			prepareMock: func(m *mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), int64(1)).Return(&domain.Account{UserID: 1, Balance: 3000}, nil)
			},
			expected: 3000,
		},
		{
			name: "Unknown account has zero balance",
			prepareMock: func(m *mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), int64(1)).Return(nil, nil)
			},
		},
		{
			name: "Repository error",
			prepareMock: func(m *mocks) {
				m.accounts.EXPECT().Get(gomock.Any(), int64(1)).Return(nil, errors.New("db error"))
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, m := NewMock(t)
			tt.prepareMock(m)

			balance, err := service.BalanceOf(context.Background(), 1)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, balance)
		})
	}
}

func TestDebit(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		prepareMock func(m *mocks)
		expected    int64
		expectedErr error
	}{
		{
			name:   "Debit succeeds",
			amount: 2500,
			prepareMock: func(m *mocks) {
				m.accounts.EXPECT().Debit(gomock.Any(), int64(1), int64(2500)).Return(int64(500), true, nil)
			},
			expected: 500,
		},
		{
			name:   "Guard refuses debit",
			amount: 2500,
			prepareMock: func(m *mocks) {
				m.accounts.EXPECT().Debit(gomock.Any(), int64(1), int64(2500)).Return(int64(0), false, nil)
			},
			expectedErr: ErrInsufficientFunds,
		},
		{
			name:        "Zero amount is rejected",
			amount:      0,
			prepareMock: func(m *mocks) {},
			expectedErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, m := NewMock(t)
			tt.prepareMock(m)

			balance, err := service.Debit(context.Background(), 1, tt.amount)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, balance)
		})
	}
}

func TestCredit(t *testing.T) {
	service, m := NewMock(t)

	m.accounts.EXPECT().Credit(gomock.Any(), int64(1), int64(5000)).Return(int64(5000), true, nil)
	balance, err := service.Credit(context.Background(), 1, 5000)
	assert.NoError(t, err)
	assert.Equal(t, int64(5000), balance)

	m.accounts.EXPECT().Credit(gomock.Any(), int64(2), int64(5000)).Return(int64(0), false, nil)
	_, err = service.Credit(context.Background(), 2, 5000)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = service.Credit(context.Background(), 2, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCharge(t *testing.T) {
	purchase := &domain.Purchase{UserID: 1, Kind: "ssh", Days: 5, TargetID: "A", Meta: "{}"}

	tests := []struct {
		name        string
		cost        int64
		prepareMock func(m *mocks)
		expectedErr error
		expectErr   bool
		balance     int64
	}{
		{
			name: "Debit and record commit together",
			cost: 2500,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.accounts.EXPECT().Debit(gomock.Any(), int64(1), int64(2500)).Return(int64(500), true, nil)
				m.purchases.EXPECT().Create(gomock.Any(), purchase).Return(&domain.Purchase{ID: 1, UserID: 1, Kind: "ssh"}, nil)
			},
			balance: 500,
		},
		{
			name: "Insufficient funds writes no record",
			cost: 2500,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.accounts.EXPECT().Debit(gomock.Any(), int64(1), int64(2500)).Return(int64(0), false, nil)
			},
			expectedErr: ErrInsufficientFunds,
		},
		{
			name: "Record failure surfaces so the transaction rolls back",
			cost: 2500,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.accounts.EXPECT().Debit(gomock.Any(), int64(1), int64(2500)).Return(int64(500), true, nil)
				m.purchases.EXPECT().Create(gomock.Any(), purchase).Return(nil, errors.New("db error"))
			},
			expectErr: true,
		},
		{
			name: "Free purchase only writes the record",
			cost: 0,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.purchases.EXPECT().Create(gomock.Any(), purchase).Return(&domain.Purchase{ID: 2}, nil)
				m.accounts.EXPECT().Get(gomock.Any(), int64(1)).Return(&domain.Account{UserID: 1, Balance: 700}, nil)
			},
			balance: 700,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, m := NewMock(t)
			tt.prepareMock(m)

			created, balance, err := service.Charge(context.Background(), purchase, tt.cost)
			switch {
			case tt.expectedErr != nil:
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, created)
			case tt.expectErr:
				assert.Error(t, err)
				assert.Nil(t, created)
			default:
				assert.NoError(t, err)
				assert.NotNil(t, created)
				assert.Equal(t, tt.balance, balance)
			}
		})
	}
}

func TestSettleDeposit(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		prepareMock func(m *mocks)
		settled     bool
		expectErr   bool
	}{
		{
			name:   "Pending deposit is approved and credited",
			amount: 5000,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.deposits.EXPECT().Approve(gomock.Any(), int64(3), "raw").Return(&domain.Deposit{ID: 3, UserID: 1, Amount: 5000, Status: domain.DepositApproved}, nil)
				m.accounts.EXPECT().Credit(gomock.Any(), int64(1), int64(5000)).Return(int64(5000), true, nil)
			},
			settled: true,
		},
		{
			name:   "Falls back to the recorded amount",
			amount: 0,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.deposits.EXPECT().Approve(gomock.Any(), int64(3), "raw").Return(&domain.Deposit{ID: 3, UserID: 1, Amount: 4800}, nil)
				m.accounts.EXPECT().Credit(gomock.Any(), int64(1), int64(4800)).Return(int64(4800), true, nil)
			},
			settled: true,
		},
		{
			name:   "Second settlement is a no-op",
			amount: 5000,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.deposits.EXPECT().Approve(gomock.Any(), int64(3), "raw").Return(nil, nil)
			},
		},
		{
			name:   "Credit failure rolls back approval",
			amount: 5000,
			prepareMock: func(m *mocks) {
				passThroughTx(m)
				m.deposits.EXPECT().Approve(gomock.Any(), int64(3), "raw").Return(&domain.Deposit{ID: 3, UserID: 1, Amount: 5000}, nil)
				m.accounts.EXPECT().Credit(gomock.Any(), int64(1), int64(5000)).Return(int64(0), false, errors.New("db error"))
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, m := NewMock(t)
			tt.prepareMock(m)

			deposit, settled, err := service.SettleDeposit(context.Background(), 3, tt.amount, "raw")
			if tt.expectErr {
				assert.Error(t, err)
				assert.False(t, settled)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.settled, settled)
			if tt.settled {
				assert.NotNil(t, deposit)
			} else {
				assert.Nil(t, deposit)
			}
		})
	}
}

func TestExpireDeposit(t *testing.T) {
	service, m := NewMock(t)

	m.deposits.EXPECT().Expire(gomock.Any(), int64(3), "").Return(true, nil)
	expired, err := service.ExpireDeposit(context.Background(), 3, "")
	assert.NoError(t, err)
	assert.True(t, expired)

	m.deposits.EXPECT().Expire(gomock.Any(), int64(3), "").Return(false, nil)
	expired, err = service.ExpireDeposit(context.Background(), 3, "")
	assert.NoError(t, err)
	assert.False(t, expired)
}

func TestTrialsSince(t *testing.T) {
	service, m := NewMock(t)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	m.purchases.EXPECT().CountByUserSince(gomock.Any(), int64(1), TrialKindPrefix, since).Return(2, nil)
	count, err := service.TrialsSince(context.Background(), 1, since)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCreateDeposit(t *testing.T) {
	service, m := NewMock(t)

	_, err := service.CreateDeposit(context.Background(), &domain.Deposit{UserID: 1})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	in := &domain.Deposit{UserID: 1, Amount: 5000, Reference: "DEP-1"}
	m.deposits.EXPECT().Create(gomock.Any(), in).Return(&domain.Deposit{ID: 1, UserID: 1, Amount: 5000, Reference: "DEP-1", Status: domain.DepositPending}, nil)
	created, err := service.CreateDeposit(context.Background(), in)
	assert.NoError(t, err)
	assert.Equal(t, domain.DepositPending, created.Status)
}
