package model

import "math/big"

// RoundInfo is the game contract's view of the round in progress.
type RoundInfo struct {
	RoundID            uint64   `json:"roundId,string"`
	LastStaker         string   `json:"lastStaker"`
	TotalAmount        *big.Int `json:"totalAmount"`
	Deadline           uint64   `json:"deadline"`
	IsActive           bool     `json:"isActive"`
	StakersCount       uint64   `json:"stakersCount"`
	StakingAvailableAt uint64   `json:"stakingAvailableAt"`
}
