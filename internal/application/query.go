package application

import "cowindex/internal/domain"

type SettlementQueryFilter struct {
	TxHash        string
	Solver        string
	Status        domain.SettlementStatus
	FromTimestamp *int64
	ToTimestamp   *int64
	Limit         int
}

type TokenVolumeQueryFilter struct {
	TxHash    string
	Token     string
	Direction domain.VolumeDirection
	Limit     int
}

// ClampLimit applies the default page size to missing or oversized limits.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
