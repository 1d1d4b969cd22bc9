package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoundStartedData is the decoded RoundStarted payload.
type RoundStartedData struct {
	Deadline         *big.Int
	StakingStartTime *big.Int
}

// StakeReceivedData is the decoded StakeReceived payload.
type StakeReceivedData struct {
	Staker      common.Address
	Amount      *big.Int
	NewDeadline *big.Int
}

// RoundEndedData is the decoded RoundEnded payload.
type RoundEndedData struct {
	Winner      common.Address
	TotalAmount *big.Int
}

// WinnerRewardData is the decoded game contract RewardsDistributed payload.
type WinnerRewardData struct {
	Winner            common.Address
	WinnerAmount      *big.Int
	ParticipantAmount *big.Int
	TreasuryAmount    *big.Int
}

// RandomWinnersData is the decoded rewarder RewardsDistributed payload.
type RandomWinnersData struct {
	RandomWinners   []common.Address
	RewardPerWinner *big.Int
	TreasuryAmount  *big.Int
}

// RandomnessRequestedData is the decoded RandomnessRequested payload.
type RandomnessRequestedData struct {
	VRFRequestID *big.Int
	Paid         *big.Int
}
