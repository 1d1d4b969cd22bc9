package chain

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundkeeper/internal/model"
)

func TestRawLogFromLog(t *testing.T) {
	log := types.Log{
		Address:     common.HexToAddress("0xab20e6D156F6F1ea70793a70C01B1a379b603D50"),
		Topics:      []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
		Data:        []byte{0xde, 0xad},
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xaa"),
		Index:       3,
		Removed:     true,
	}
	received := time.Unix(1700000000, 0)

	raw := RawLogFromLog(log, model.OriginWebSocket, 1699999990, received)
	assert.Equal(t, uint64(42), raw.BlockNumber)
	assert.Equal(t, uint64(3), raw.LogIndex)
	assert.Equal(t, "0xdead", raw.Data)
	assert.Equal(t, common.HexToHash("0x01").Hex(), raw.Topic0())
	assert.Len(t, raw.Topics, 2)
	assert.True(t, raw.Removed)
	assert.Equal(t, model.OriginWebSocket, raw.Origin)
	assert.Equal(t, uint64(1699999990), raw.Timestamp)
	assert.True(t, received.Equal(raw.ReceivedAt))
}

func TestParseHelpers(t *testing.T) {
	addr, err := ParseAddress(" 0xab20e6D156F6F1ea70793a70C01B1a379b603D50 ")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xab20e6D156F6F1ea70793a70C01B1a379b603D50"), addr)

	_, err = ParseAddress("0x123")
	assert.Error(t, err)

	zero, err := ParseOptionalAddress("")
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, zero)

	h, err := ParseHash(common.HexToHash("0x05").Hex())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x05"), h)

	_, err = ParseHash("0x05")
	assert.Error(t, err)
}
