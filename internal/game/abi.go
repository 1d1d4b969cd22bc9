package game

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const lswABIJSON = `[
  {
    "inputs": [],
    "name": "getCurrentRoundInfo",
    "outputs": [
      {"internalType": "uint256", "name": "currentRoundId", "type": "uint256"},
      {"internalType": "address", "name": "lastStaker", "type": "address"},
      {"internalType": "uint256", "name": "totalAmount", "type": "uint256"},
      {"internalType": "uint256", "name": "deadline", "type": "uint256"},
      {"internalType": "bool", "name": "isActive", "type": "bool"},
      {"internalType": "uint256", "name": "stakersCount", "type": "uint256"},
      {"internalType": "uint256", "name": "stakingAvailableAt", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "winner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "winnerAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "participantAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "treasuryAmount", "type": "uint256"}
    ],
    "name": "RewardsDistributed",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "winner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "totalAmount", "type": "uint256"}
    ],
    "name": "RoundEnded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "deadline", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "_stakingStartTime", "type": "uint256"}
    ],
    "name": "RoundStarted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "staker", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "newDeadline", "type": "uint256"}
    ],
    "name": "StakeReceived",
    "type": "event"
  }
]`

const rewarderABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "requestId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "paid", "type": "uint256"}
    ],
    "name": "RandomnessRequested",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "roundId", "type": "uint256"},
      {"indexed": false, "internalType": "address[]", "name": "winners", "type": "address[]"},
      {"indexed": false, "internalType": "uint256", "name": "rewardPerWinner", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "treasuryAmount", "type": "uint256"}
    ],
    "name": "RewardsDistributed",
    "type": "event"
  }
]`

var (
	lswABI     abi.ABI
	lswABIOnce sync.Once
	lswABIErr  error

	rewarderABI     abi.ABI
	rewarderABIOnce sync.Once
	rewarderABIErr  error
)

// LSWABI returns the parsed game contract ABI.
func LSWABI() (abi.ABI, error) {
	lswABIOnce.Do(func() {
		lswABI, lswABIErr = abi.JSON(strings.NewReader(lswABIJSON))
	})
	return lswABI, lswABIErr
}

// RewarderABI returns the parsed rewarder contract ABI.
func RewarderABI() (abi.ABI, error) {
	rewarderABIOnce.Do(func() {
		rewarderABI, rewarderABIErr = abi.JSON(strings.NewReader(rewarderABIJSON))
	})
	return rewarderABI, rewarderABIErr
}
