package dto

import "time"

type DepositCallbackRequestDTO struct {
	Reference string `json:"reference" example:"DEP-20250110-0001"`
	Status    string `json:"status" example:"Success" enums:"Pending,Success,Expired"`
	Amount    int64  `json:"amount" example:"10000"`
}

type DepositCallbackResponseDTO struct {
	Settled bool `json:"settled" example:"true"`
}

type DepositResponseDTO struct {
	ID        int64      `json:"id" example:"9"`
	Amount    int64      `json:"amount" example:"10000"`
	Status    string     `json:"status" example:"approved"`
	Reference string     `json:"reference" example:"DEP-20250110-0001"`
	CreatedAt time.Time  `json:"created_at" example:"2025-01-10T12:00:00+07:00"`
	PaidAt    *time.Time `json:"paid_at,omitempty" example:"2025-01-10T12:02:10+07:00"`
}
