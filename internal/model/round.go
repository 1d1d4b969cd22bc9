package model

import (
	"math/big"
	"strings"
)

// ZeroAddress is the "no winner" sentinel.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// CompletedRound aggregates every settlement fragment seen for one round.
// Amounts are decimal strings in the smallest unit; optional amounts stay nil
// until the matching distribution event arrives.
type CompletedRound struct {
	RoundID           uint64   `json:"roundId,string"`
	Winner            string   `json:"winner"`
	TotalAmount       string   `json:"totalAmount"`
	Timestamp         uint64   `json:"timestamp"`
	WinnerAmount      *string  `json:"winnerAmount,omitempty"`
	ParticipantAmount *string  `json:"participantAmount,omitempty"`
	TreasuryAmount    *string  `json:"treasuryAmount,omitempty"`
	RandomWinners     []string `json:"randomWinners"`
	RewardPerWinner   *string  `json:"rewardPerWinner,omitempty"`
	VRFRequestID      *string  `json:"vrfRequestId,omitempty"`
	IsVRFPending      bool     `json:"isVrfPending"`
	Source            Origin   `json:"source"`
}

// Valid reports whether the round has a winner and a positive pot.
func (r CompletedRound) Valid() bool {
	return IsValidWinner(r.Winner) && IsPositiveAmount(r.TotalAmount)
}

// HasWinnerReward reports whether the winner distribution fields are set.
// TreasuryAmount may also come from the random draw, so it is not checked.
func (r CompletedRound) HasWinnerReward() bool {
	return r.WinnerAmount != nil && r.ParticipantAmount != nil
}

// HasRandomWinners reports whether the random draw was recorded.
func (r CompletedRound) HasRandomWinners() bool {
	return r.RewardPerWinner != nil
}

// Clone returns a deep copy.
func (r CompletedRound) Clone() CompletedRound {
	out := r
	out.WinnerAmount = cloneString(r.WinnerAmount)
	out.ParticipantAmount = cloneString(r.ParticipantAmount)
	out.TreasuryAmount = cloneString(r.TreasuryAmount)
	out.RewardPerWinner = cloneString(r.RewardPerWinner)
	out.VRFRequestID = cloneString(r.VRFRequestID)
	out.RandomWinners = append([]string{}, r.RandomWinners...)
	return out
}

// MergeFrom fills fields that are unset on r from other. Fields already set
// on r are kept, so merging is order independent for non-conflicting data.
func (r *CompletedRound) MergeFrom(other CompletedRound) {
	if !IsValidWinner(r.Winner) && IsValidWinner(other.Winner) {
		r.Winner = other.Winner
	}
	if !IsPositiveAmount(r.TotalAmount) && IsPositiveAmount(other.TotalAmount) {
		r.TotalAmount = other.TotalAmount
	}
	if r.Timestamp == 0 {
		r.Timestamp = other.Timestamp
	}
	// The winner distribution treasury share wins over the random draw one.
	if !r.HasWinnerReward() && other.HasWinnerReward() {
		r.WinnerAmount = cloneString(other.WinnerAmount)
		r.ParticipantAmount = cloneString(other.ParticipantAmount)
		if other.TreasuryAmount != nil {
			r.TreasuryAmount = cloneString(other.TreasuryAmount)
		}
	}
	if r.TreasuryAmount == nil {
		r.TreasuryAmount = cloneString(other.TreasuryAmount)
	}
	if r.RewardPerWinner == nil && other.RewardPerWinner != nil {
		r.RewardPerWinner = cloneString(other.RewardPerWinner)
		r.RandomWinners = append([]string{}, other.RandomWinners...)
	}
	if r.VRFRequestID == nil {
		r.VRFRequestID = cloneString(other.VRFRequestID)
	}
	r.IsVRFPending = (r.IsVRFPending || other.IsVRFPending) && !r.HasRandomWinners()
	if r.Source == "" {
		r.Source = other.Source
	}
	if r.RandomWinners == nil {
		r.RandomWinners = []string{}
	}
}

// IsValidWinner reports whether addr is a well-formed non-zero address.
func IsValidWinner(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	return !strings.EqualFold(addr, ZeroAddress)
}

// IsPositiveAmount reports whether a decimal string encodes a value > 0.
func IsPositiveAmount(amount string) bool {
	v, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return false
	}
	return v.Sign() > 0
}

// AmountString formats a big integer as a decimal string, "0" for nil.
func AmountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// AmountPtr returns a pointer to the decimal form of v.
func AmountPtr(v *big.Int) *string {
	s := AmountString(v)
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
