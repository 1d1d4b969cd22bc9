package round

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundkeeper/internal/model"
)

var winner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func roundEnded(id uint64, w common.Address, total int64) model.DomainEvent {
	return model.DomainEvent{
		Kind:      model.KindRoundEnded,
		RoundID:   id,
		Origin:    model.OriginRPCPoll,
		Timestamp: 1700000000 + id,
		Payload:   model.RoundEndedData{Winner: w, TotalAmount: big.NewInt(total)},
	}
}

func winnerReward(id uint64, w, p, t int64) model.DomainEvent {
	return model.DomainEvent{
		Kind:    model.KindWinnerRewardDistributed,
		RoundID: id,
		Payload: model.WinnerRewardData{
			Winner:            winner,
			WinnerAmount:      big.NewInt(w),
			ParticipantAmount: big.NewInt(p),
			TreasuryAmount:    big.NewInt(t),
		},
	}
}

func randomnessRequested(id uint64, requestID int64) model.DomainEvent {
	return model.DomainEvent{
		Kind:    model.KindRandomnessRequested,
		RoundID: id,
		Payload: model.RandomnessRequestedData{VRFRequestID: big.NewInt(requestID), Paid: big.NewInt(1)},
	}
}

func randomWinners(id uint64, perWinner int64, winners ...common.Address) model.DomainEvent {
	return model.DomainEvent{
		Kind:    model.KindRandomWinnersDistributed,
		RoundID: id,
		Payload: model.RandomWinnersData{RandomWinners: winners, RewardPerWinner: big.NewInt(perWinner), TreasuryAmount: big.NewInt(5)},
	}
}

func TestRoundEndedThenWinnerReward(t *testing.T) {
	a := NewAssembler(Config{}, nil)

	outcome, rec, err := a.Apply(roundEnded(3, winner, 1000))
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.Equal(t, StateEnded, a.State(3))

	outcome, rec, err = a.Apply(winnerReward(3, 700, 200, 100))
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, StateWinnerSettled, a.State(3))

	assert.Equal(t, winner.Hex(), rec.Winner)
	assert.Equal(t, "1000", rec.TotalAmount)
	require.NotNil(t, rec.WinnerAmount)
	assert.Equal(t, "700", *rec.WinnerAmount)
	assert.Equal(t, "200", *rec.ParticipantAmount)
	assert.Equal(t, "100", *rec.TreasuryAmount)
	assert.Equal(t, []uint64{3}, a.RoundIDs())
}

func TestRandomnessBeforeRoundEnded(t *testing.T) {
	a := NewAssembler(Config{}, nil)

	outcome, _, err := a.Apply(randomnessRequested(9, 77))
	require.NoError(t, err)
	assert.Equal(t, Buffered, outcome)
	assert.True(t, a.IsVRFPending(9))
	assert.Equal(t, StateUnseen, a.State(9))

	outcome, rec, err := a.Apply(roundEnded(9, winner, 500))
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.True(t, rec.IsVRFPending)
	require.NotNil(t, rec.VRFRequestID)
	assert.Equal(t, "77", *rec.VRFRequestID)
	assert.Zero(t, a.PendingCount())

	outcome, rec, err = a.Apply(randomWinners(9, 10, common.HexToAddress("0x01")))
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.False(t, rec.IsVRFPending)
	assert.Equal(t, StateFullySettled, a.State(9))
}

func TestInvalidRoundEndedRejected(t *testing.T) {
	a := NewAssembler(Config{}, nil)

	outcome, _, err := a.Apply(roundEnded(1, common.Address{}, 1000))
	assert.Equal(t, Rejected, outcome)
	assert.True(t, errors.Is(err, model.ErrInvalidRound))

	outcome, _, err = a.Apply(roundEnded(2, winner, 0))
	assert.Equal(t, Rejected, outcome)
	assert.True(t, errors.Is(err, model.ErrInvalidRound))

	assert.Empty(t, a.RoundIDs())
}

func TestFragmentsInAnyOrder(t *testing.T) {
	events := []model.DomainEvent{
		randomWinners(4, 10, common.HexToAddress("0x01"), common.HexToAddress("0x02")),
		winnerReward(4, 700, 200, 100),
		randomnessRequested(4, 1),
		roundEnded(4, winner, 1000),
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 3, 0, 1}, {1, 3, 2, 0}}

	var first model.CompletedRound
	for i, order := range orders {
		a := NewAssembler(Config{}, nil)
		for _, idx := range order {
			_, _, err := a.Apply(events[idx])
			require.NoError(t, err)
		}
		rec, ok := a.Round(4)
		require.True(t, ok)
		assert.False(t, rec.IsVRFPending)
		assert.Equal(t, StateFullySettled, a.State(4))
		assert.Equal(t, "100", *rec.TreasuryAmount)
		if i == 0 {
			first = rec
			continue
		}
		rec.Source = first.Source
		rec.Timestamp = first.Timestamp
		assert.Equal(t, first, rec)
	}
}

func TestDuplicateAndConflictingFragments(t *testing.T) {
	a := NewAssembler(Config{}, nil)
	_, _, err := a.Apply(roundEnded(5, winner, 1000))
	require.NoError(t, err)
	_, _, err = a.Apply(winnerReward(5, 700, 200, 100))
	require.NoError(t, err)

	outcome, _, err := a.Apply(winnerReward(5, 700, 200, 100))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	outcome, rec, err := a.Apply(winnerReward(5, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, "700", *rec.WinnerAmount)

	outcome, rec, err = a.Apply(roundEnded(5, common.HexToAddress("0xbb"), 9))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, "1000", rec.TotalAmount)
}

func TestStaleRoundsAndPendingCap(t *testing.T) {
	a := NewAssembler(Config{RetentionRounds: 10, PendingCapacity: 2}, nil)
	_, _, err := a.Apply(roundEnded(100, winner, 1))
	require.NoError(t, err)

	outcome, _, err := a.Apply(roundEnded(90, winner, 1))
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome)

	outcome, _, err = a.Apply(roundEnded(91, winner, 1))
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	for _, id := range []uint64{95, 96, 97} {
		outcome, _, err = a.Apply(randomnessRequested(id, 1))
		require.NoError(t, err)
		assert.Equal(t, Buffered, outcome)
	}
	assert.Equal(t, 2, a.PendingCount())
	assert.False(t, a.IsVRFPending(95))
	assert.True(t, a.IsVRFPending(97))

	_, _, err = a.Apply(roundEnded(120, winner, 1))
	require.NoError(t, err)
	assert.Zero(t, a.PendingCount())
}

func TestRestoreMergesSnapshot(t *testing.T) {
	a := NewAssembler(Config{}, nil)
	_, _, err := a.Apply(roundEnded(6, winner, 1000))
	require.NoError(t, err)
	_, _, err = a.Apply(randomnessRequested(7, 3))
	require.NoError(t, err)

	wa, pa, ta := "700", "200", "100"
	a.Restore([]model.CompletedRound{
		{RoundID: 6, Winner: winner.Hex(), TotalAmount: "1000", WinnerAmount: &wa, ParticipantAmount: &pa, TreasuryAmount: &ta},
		{RoundID: 7, Winner: winner.Hex(), TotalAmount: "300"},
		{RoundID: 8, Winner: model.ZeroAddress, TotalAmount: "300"},
	})

	rec, ok := a.Round(6)
	require.True(t, ok)
	assert.Equal(t, "700", *rec.WinnerAmount)

	rec, ok = a.Round(7)
	require.True(t, ok)
	assert.True(t, rec.IsVRFPending)

	_, ok = a.Round(8)
	assert.False(t, ok)

	a.Reset()
	assert.Empty(t, a.RoundIDs())
	assert.Zero(t, a.Highest())
}
