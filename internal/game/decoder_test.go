package game

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundkeeper/internal/model"
	"roundkeeper/internal/streams"
)

var testWinner = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder(DecoderConfig{StreamSchemaID: streams.ComputeSchemaID(streams.RoundEndedSchema)})
	require.NoError(t, err)
	return d
}

func topicHex(h common.Hash) string { return h.Hex() }

func roundTopic(id uint64) string {
	return common.BigToHash(new(big.Int).SetUint64(id)).Hex()
}

func addressTopic(addr common.Address) string {
	return common.BytesToHash(addr.Bytes()).Hex()
}

func packData(t *testing.T, event abi.Event, values ...interface{}) string {
	t.Helper()
	data, err := event.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)
	return hexutil.Encode(data)
}

func TestDecodeRoundEndedPositional(t *testing.T) {
	d := newTestDecoder(t)
	lsw, err := LSWABI()
	require.NoError(t, err)
	event := lsw.Events["RoundEnded"]

	raw := model.RawLogEntry{
		BlockNumber: 120,
		TxHash:      "0xabc",
		LogIndex:    3,
		Topics:      []string{topicHex(event.ID), roundTopic(5), addressTopic(testWinner)},
		Data:        packData(t, event, big.NewInt(1000)),
		Origin:      model.OriginRPCPoll,
		Timestamp:   1700000000,
	}

	ev, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, model.KindRoundEnded, ev.Kind)
	assert.Equal(t, uint64(5), ev.RoundID)
	assert.Equal(t, uint64(120), ev.BlockNumber)
	assert.Equal(t, uint64(1700000000), ev.Timestamp)

	data, ok := ev.RoundEnded()
	require.True(t, ok)
	assert.Equal(t, testWinner, data.Winner)
	assert.Equal(t, "1000", data.TotalAmount.String())
}

func TestDecodeNamedParams(t *testing.T) {
	d := newTestDecoder(t)
	lsw, err := LSWABI()
	require.NoError(t, err)
	event := lsw.Events["StakeReceived"]

	raw := model.RawLogEntry{
		TxHash: "0xdef",
		Topics: []string{topicHex(event.ID)},
		Params: map[string]interface{}{
			"roundId":     "9",
			"staker":      testWinner.Hex(),
			"amount":      "10000000000000000",
			"newDeadline": float64(1700000300),
		},
		Origin: model.OriginExplorer,
	}

	ev, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), ev.RoundID)
	data, ok := ev.StakeReceived()
	require.True(t, ok)
	assert.Equal(t, testWinner, data.Staker)
	assert.Equal(t, "10000000000000000", data.Amount.String())
	assert.Equal(t, "1700000300", data.NewDeadline.String())
}

func TestDecodeNamedThenPositional(t *testing.T) {
	d := newTestDecoder(t)
	lsw, err := LSWABI()
	require.NoError(t, err)
	event := lsw.Events["RewardsDistributed"]

	raw := model.RawLogEntry{
		Topics: []string{topicHex(event.ID), roundTopic(3), addressTopic(testWinner)},
		Data:   packData(t, event, big.NewInt(700), big.NewInt(200), big.NewInt(100)),
		Params: map[string]interface{}{"winnerAmount": "700"},
	}

	ev, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, model.KindWinnerRewardDistributed, ev.Kind)
	data, ok := ev.WinnerReward()
	require.True(t, ok)
	assert.Equal(t, "700", data.WinnerAmount.String())
	assert.Equal(t, "200", data.ParticipantAmount.String())
	assert.Equal(t, "100", data.TreasuryAmount.String())
}

func TestDecodeMissingRequiredFieldFailsClosed(t *testing.T) {
	d := newTestDecoder(t)
	lsw, err := LSWABI()
	require.NoError(t, err)

	raw := model.RawLogEntry{
		Topics: []string{topicHex(lsw.Events["RoundEnded"].ID)},
		Params: map[string]interface{}{"roundId": "4", "winner": testWinner.Hex()},
	}

	_, err = d.Decode(raw)
	require.Error(t, err)
	var decodeErr *model.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, string(model.KindRoundEnded), decodeErr.Event)
	assert.Contains(t, err.Error(), "totalAmount")
}

func TestDecodeTopicCountMismatch(t *testing.T) {
	d := newTestDecoder(t)
	lsw, err := LSWABI()
	require.NoError(t, err)
	event := lsw.Events["RoundEnded"]

	raw := model.RawLogEntry{
		Topics: []string{topicHex(event.ID), roundTopic(5)},
		Data:   packData(t, event, big.NewInt(1)),
	}
	_, err = d.Decode(raw)
	var decodeErr *model.DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestDecodeUnknownSignature(t *testing.T) {
	d := newTestDecoder(t)
	raw := model.RawLogEntry{Topics: []string{common.HexToHash("0xdead").Hex()}}
	_, err := d.Decode(raw)
	assert.True(t, errors.Is(err, model.ErrUnknownEvent))
	assert.False(t, d.CanDecode(raw.Topic0()))
}

func TestDecodeRandomWinners(t *testing.T) {
	d := newTestDecoder(t)
	rewarder, err := RewarderABI()
	require.NoError(t, err)
	event := rewarder.Events["RewardsDistributed"]
	winners := []common.Address{common.HexToAddress("0x02"), common.HexToAddress("0x03")}

	raw := model.RawLogEntry{
		Topics: []string{topicHex(event.ID), roundTopic(8)},
		Data:   packData(t, event, winners, big.NewInt(25), big.NewInt(50)),
	}
	ev, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, model.KindRandomWinnersDistributed, ev.Kind)
	data, ok := ev.RandomWinners()
	require.True(t, ok)
	assert.Equal(t, winners, data.RandomWinners)
	assert.Equal(t, "25", data.RewardPerWinner.String())

	named := model.RawLogEntry{
		Topics: []string{topicHex(event.ID)},
		Params: map[string]interface{}{"roundId": "8", "rewardPerWinner": "0", "treasuryAmount": "50"},
	}
	ev, err = d.Decode(named)
	require.NoError(t, err)
	data, _ = ev.RandomWinners()
	assert.Empty(t, data.RandomWinners)
}

func TestDecodeRandomnessRequested(t *testing.T) {
	d := newTestDecoder(t)
	rewarder, err := RewarderABI()
	require.NoError(t, err)
	event := rewarder.Events["RandomnessRequested"]

	raw := model.RawLogEntry{
		Topics:     []string{topicHex(event.ID), roundTopic(9)},
		Data:       packData(t, event, big.NewInt(77), big.NewInt(1)),
		ReceivedAt: time.Unix(1700000500, 0),
	}
	ev, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), ev.RoundID)
	assert.Equal(t, uint64(1700000500), ev.Timestamp)
	data, ok := ev.RandomnessRequested()
	require.True(t, ok)
	assert.Equal(t, "77", data.VRFRequestID.String())
}

func TestDecodeStreamEntry(t *testing.T) {
	d := newTestDecoder(t)
	data, err := streams.EncodeRoundEnded(streams.RoundRecord{
		RoundID:     11,
		Winner:      testWinner,
		TotalAmount: big.NewInt(5000),
		Timestamp:   1700001000,
	})
	require.NoError(t, err)

	raw := model.RawLogEntry{
		Topics: []string{d.SchemaID().Hex()},
		Data:   hexutil.Encode(data),
		Origin: model.OriginExternalStream,
	}
	ev, err := d.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, model.KindRoundEnded, ev.Kind)
	assert.Equal(t, uint64(11), ev.RoundID)
	assert.Equal(t, uint64(1700001000), ev.Timestamp)
	assert.Equal(t, "round:11:RoundEnded", ev.IdentityKey())
}

func TestDecoderTopic0Map(t *testing.T) {
	alias := common.HexToHash("0x1234").Hex()
	d, err := NewDecoder(DecoderConfig{Topic0Map: map[string]string{alias: "roundended"}})
	require.NoError(t, err)
	assert.True(t, d.CanDecode(alias))

	_, err = NewDecoder(DecoderConfig{Topic0Map: map[string]string{alias: "Swap"}})
	assert.Error(t, err)
}

func TestDecoderTopics(t *testing.T) {
	d := newTestDecoder(t)
	assert.Len(t, d.LSWTopics(), 4)
	assert.Len(t, d.RewarderTopics(), 2)
	assert.Len(t, d.Topics(), 6)
	assert.NotEqual(t, d.Topic(model.KindWinnerRewardDistributed), d.Topic(model.KindRandomWinnersDistributed))
}
