package model

import (
	"fmt"
	"strings"
)

// EventKind names a DomainEvent variant.
type EventKind string

const (
	KindRoundStarted             EventKind = "RoundStarted"
	KindStakeReceived            EventKind = "StakeReceived"
	KindRoundEnded               EventKind = "RoundEnded"
	KindWinnerRewardDistributed  EventKind = "WinnerRewardDistributed"
	KindRandomWinnersDistributed EventKind = "RandomWinnersDistributed"
	KindRandomnessRequested      EventKind = "RandomnessRequested"
)

// AllKinds lists every tracked event kind.
var AllKinds = []EventKind{
	KindRoundStarted,
	KindStakeReceived,
	KindRoundEnded,
	KindWinnerRewardDistributed,
	KindRandomWinnersDistributed,
	KindRandomnessRequested,
}

// DomainEvent is a decoded contract or stream event.
// Payload holds one of the *Data structs matching Kind.
type DomainEvent struct {
	Kind        EventKind
	RoundID     uint64
	Origin      Origin
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Timestamp   uint64
	Payload     interface{}
}

// IdentityKey returns the key two deliveries of the same logical event share.
// Events without a transaction hash fall back to round id and kind.
func (e DomainEvent) IdentityKey() string {
	if e.TxHash != "" {
		return fmt.Sprintf("tx:%s:%d", strings.ToLower(e.TxHash), e.LogIndex)
	}
	return fmt.Sprintf("round:%d:%s", e.RoundID, e.Kind)
}

func (e DomainEvent) RoundStarted() (RoundStartedData, bool) {
	d, ok := e.Payload.(RoundStartedData)
	return d, ok
}

func (e DomainEvent) StakeReceived() (StakeReceivedData, bool) {
	d, ok := e.Payload.(StakeReceivedData)
	return d, ok
}

func (e DomainEvent) RoundEnded() (RoundEndedData, bool) {
	d, ok := e.Payload.(RoundEndedData)
	return d, ok
}

func (e DomainEvent) WinnerReward() (WinnerRewardData, bool) {
	d, ok := e.Payload.(WinnerRewardData)
	return d, ok
}

func (e DomainEvent) RandomWinners() (RandomWinnersData, bool) {
	d, ok := e.Payload.(RandomWinnersData)
	return d, ok
}

func (e DomainEvent) RandomnessRequested() (RandomnessRequestedData, bool) {
	d, ok := e.Payload.(RandomnessRequestedData)
	return d, ok
}
