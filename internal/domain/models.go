package domain

import (
	"net"
	"strconv"
	"time"
)

type Account struct {
	UserID    int64     `db:"user_id"`
	Name      string    `db:"name"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
}

type Purchase struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Kind      string    `db:"kind"`
	Days      int       `db:"days"`
	TargetID  string    `db:"target_id"`
	Meta      string    `db:"meta"`
	CreatedAt time.Time `db:"created_at"`
}

type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositExpired  DepositStatus = "expired"
)

type Deposit struct {
	ID        int64         `db:"id"`
	UserID    int64         `db:"user_id"`
	Amount    int64         `db:"amount"`
	Status    DepositStatus `db:"status"`
	Reference string        `db:"reference"`
	Raw       string        `db:"raw"`
	CreatedAt time.Time     `db:"created_at"`
	PaidAt    *time.Time    `db:"paid_at"`
}

// Target is one provisioning server from the catalog file.
type Target struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	PricePerDay int64  `json:"harga_per_hari"`
	Limit       int    `json:"limit_add"`
}

func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}
