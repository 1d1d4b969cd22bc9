package model

// SyncState compares the stream's last recorded round with the contract counter.
// The contract's current round is in progress, so a synced stream holds every
// round below it.
type SyncState struct {
	LatestStreamRoundID    uint64   `json:"latestStreamRoundId,string"`
	CurrentContractRoundID uint64   `json:"currentContractRoundId,string"`
	IsSynced               bool     `json:"isSynced"`
	MissingRounds          []uint64 `json:"missingRounds"`
}

// NewSyncState derives IsSynced and MissingRounds from the two counters.
func NewSyncState(latestStream, currentContract uint64) SyncState {
	state := SyncState{
		LatestStreamRoundID:    latestStream,
		CurrentContractRoundID: currentContract,
		IsSynced:               currentContract == latestStream+1,
		MissingRounds:          []uint64{},
	}
	if state.IsSynced {
		return state
	}
	for id := latestStream + 1; id < currentContract; id++ {
		state.MissingRounds = append(state.MissingRounds, id)
	}
	return state
}
