package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"roundkeeper/internal/model"
)

// RawLogFromLog converts a go-ethereum log into a RawLogEntry.
func RawLogFromLog(log types.Log, origin model.Origin, timestamp uint64, receivedAt time.Time) model.RawLogEntry {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.RawLogEntry{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Origin:      origin,
		Timestamp:   timestamp,
		ReceivedAt:  receivedAt.UTC(),
	}
}
