package dto

import "time"

type BalanceResponseDTO struct {
	UserID  int64 `json:"user_id" example:"123456789"`
	Balance int64 `json:"balance" example:"25000"`
}

type PurchaseResponseDTO struct {
	ID        int64     `json:"id" example:"17"`
	Kind      string    `json:"kind" example:"ssh"`
	Days      int       `json:"days" example:"30"`
	TargetID  string    `json:"target_id" example:"sg1"`
	Meta      string    `json:"meta,omitempty" example:"{\"username\":\"alice\"}"`
	CreatedAt time.Time `json:"created_at" example:"2025-01-10T12:00:00+07:00"`
}
