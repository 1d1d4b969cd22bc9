package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent marks logs whose signature is not tracked.
	ErrUnknownEvent = errors.New("unknown event signature")
	// ErrInvalidRound marks a RoundEnded with a zero winner or empty pot.
	ErrInvalidRound = errors.New("invalid round")
	// ErrSyncInProgress is returned when a sync is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// DecodeError records a decode failure for a log.
type DecodeError struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Origin      Origin `json:"origin"`
	Event       string `json:"event,omitempty"`
	Err         error  `json:"-"`
}

// NewDecodeError builds a DecodeError for raw.
func NewDecodeError(raw RawLogEntry, event string, err error) *DecodeError {
	return &DecodeError{
		BlockNumber: raw.BlockNumber,
		TxHash:      raw.TxHash,
		LogIndex:    raw.LogIndex,
		Address:     raw.Address,
		Topic0:      raw.Topic0(),
		Origin:      raw.Origin,
		Event:       event,
		Err:         err,
	}
}

func (e *DecodeError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("decode %s (tx %s log %d): %v", e.Event, e.TxHash, e.LogIndex, e.Err)
	}
	return fmt.Sprintf("decode log (tx %s log %d): %v", e.TxHash, e.LogIndex, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConnectionError reports a lost or failed transport.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SyncError reports a round that could not be backfilled.
type SyncError struct {
	RoundID uint64
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync round %d: %v", e.RoundID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// PersistenceError reports a key/value store failure.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
