package model

import (
	"encoding/json"
	"time"
)

// Origin identifies which source delivered a log.
type Origin string

const (
	OriginRPCPoll        Origin = "rpc-poll"
	OriginWebSocket      Origin = "websocket"
	OriginExternalStream Origin = "external-stream"
	OriginExplorer       Origin = "explorer-api"
)

// RawLogEntry is the normalized representation of a log as received from a source.
// It is never mutated after construction.
type RawLogEntry struct {
	BlockNumber uint64                 `json:"block_number"`
	BlockHash   string                 `json:"block_hash,omitempty"`
	TxHash      string                 `json:"tx_hash,omitempty"`
	LogIndex    uint64                 `json:"log_index"`
	Address     string                 `json:"address"`
	Topics      []string               `json:"topics"`
	Data        string                 `json:"data"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Removed     bool                   `json:"removed,omitempty"`
	Origin      Origin                 `json:"origin"`
	Timestamp   uint64                 `json:"timestamp"`
	ReceivedAt  time.Time              `json:"received_at"`
}

// Topic0 returns the signature topic or an empty string.
func (r RawLogEntry) Topic0() string {
	if len(r.Topics) == 0 {
		return ""
	}
	return r.Topics[0]
}

// MarshalJSON ensures RawLogEntry is encoded with stable field names.
func (r RawLogEntry) MarshalJSON() ([]byte, error) {
	type Alias RawLogEntry
	return json.Marshal(Alias(r))
}

// UnmarshalJSON decodes a RawLogEntry from JSON.
func (r *RawLogEntry) UnmarshalJSON(data []byte) error {
	type Alias RawLogEntry
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RawLogEntry(a)
	return nil
}
