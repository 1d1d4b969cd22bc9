package model

// ActivityEvent is a live feed entry for stakes and round boundaries.
type ActivityEvent struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	RoundID     uint64    `json:"roundId,string"`
	Address     string    `json:"address,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	BlockNumber uint64    `json:"blockNumber"`
	TxHash      string    `json:"transactionHash,omitempty"`
	LogIndex    uint64    `json:"logIndex"`
	Timestamp   uint64    `json:"timestamp"`
	Origin      Origin    `json:"origin"`
}

// ActivityFromEvent builds a feed entry from a decoded event. Only stakes,
// round starts and valid round ends produce entries.
func ActivityFromEvent(ev DomainEvent) (ActivityEvent, bool) {
	item := ActivityEvent{
		ID:          ev.IdentityKey(),
		Kind:        ev.Kind,
		RoundID:     ev.RoundID,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		LogIndex:    ev.LogIndex,
		Timestamp:   ev.Timestamp,
		Origin:      ev.Origin,
	}

	switch ev.Kind {
	case KindStakeReceived:
		data, ok := ev.StakeReceived()
		if !ok {
			return ActivityEvent{}, false
		}
		item.Address = data.Staker.Hex()
		item.Amount = AmountString(data.Amount)
	case KindRoundStarted:
	case KindRoundEnded:
		data, ok := ev.RoundEnded()
		if !ok {
			return ActivityEvent{}, false
		}
		item.Address = data.Winner.Hex()
		item.Amount = AmountString(data.TotalAmount)
		if !IsValidWinner(item.Address) || !IsPositiveAmount(item.Amount) {
			return ActivityEvent{}, false
		}
	default:
		return ActivityEvent{}, false
	}
	return item, true
}
