package streams

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"roundkeeper/internal/model"
)

// RoundEndedSchema is the field-ordered schema published for every completed round.
const RoundEndedSchema = "uint256 roundId, address winner, uint256 totalAmount, uint256 timestamp"

// ComputeSchemaID derives the schema id from the schema string.
func ComputeSchemaID(schema string) common.Hash {
	return crypto.Keccak256Hash([]byte(strings.TrimSpace(schema)))
}

// ParseSchema turns "type name, type name" into ABI arguments in field order.
func ParseSchema(schema string) (abi.Arguments, error) {
	parts := strings.Split(schema, ",")
	args := make(abi.Arguments, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid schema field %q", strings.TrimSpace(part))
		}
		if err := checkIntWidth(fields[0]); err != nil {
			return nil, fmt.Errorf("schema field %s: %w", fields[1], err)
		}
		typ, err := abi.NewType(fields[0], "", nil)
		if err != nil {
			return nil, fmt.Errorf("schema field %s: %w", fields[1], err)
		}
		args = append(args, abi.Argument{Name: fields[1], Type: typ})
	}
	return args, nil
}

// checkIntWidth rejects int/uint widths outside 8..256 in steps of 8.
// abi.NewType accepts any width.
func checkIntWidth(typ string) error {
	var digits string
	switch {
	case strings.HasPrefix(typ, "uint"):
		digits = strings.TrimPrefix(typ, "uint")
	case strings.HasPrefix(typ, "int"):
		digits = strings.TrimPrefix(typ, "int")
	default:
		return nil
	}
	if digits == "" {
		return nil
	}
	bits, err := strconv.Atoi(digits)
	if err != nil || bits < 8 || bits > 256 || bits%8 != 0 {
		return fmt.Errorf("invalid integer width %q", typ)
	}
	return nil
}

var (
	roundEndedArgs     abi.Arguments
	roundEndedArgsOnce sync.Once
	roundEndedArgsErr  error
)

// RoundEndedArguments returns the parsed RoundEndedSchema.
func RoundEndedArguments() (abi.Arguments, error) {
	roundEndedArgsOnce.Do(func() {
		roundEndedArgs, roundEndedArgsErr = ParseSchema(RoundEndedSchema)
	})
	return roundEndedArgs, roundEndedArgsErr
}

// RoundRecord is one decoded stream entry.
type RoundRecord struct {
	RoundID     uint64
	Winner      common.Address
	TotalAmount *big.Int
	Timestamp   uint64
}

// EncodeRoundEnded encodes a record with the RoundEndedSchema.
func EncodeRoundEnded(rec RoundRecord) ([]byte, error) {
	args, err := RoundEndedArguments()
	if err != nil {
		return nil, err
	}
	total := rec.TotalAmount
	if total == nil {
		total = new(big.Int)
	}
	return args.Pack(
		new(big.Int).SetUint64(rec.RoundID),
		rec.Winner,
		total,
		new(big.Int).SetUint64(rec.Timestamp),
	)
}

// DecodeRoundEnded decodes one entry written with the RoundEndedSchema.
func DecodeRoundEnded(data []byte) (RoundRecord, error) {
	args, err := RoundEndedArguments()
	if err != nil {
		return RoundRecord{}, err
	}
	values, err := args.Unpack(data)
	if err != nil {
		return RoundRecord{}, fmt.Errorf("unpack round ended: %w", err)
	}
	if len(values) != 4 {
		return RoundRecord{}, fmt.Errorf("unexpected round ended values: %d", len(values))
	}

	roundID, ok := values[0].(*big.Int)
	if !ok || !roundID.IsUint64() {
		return RoundRecord{}, fmt.Errorf("invalid roundId %v", values[0])
	}
	winner, ok := values[1].(common.Address)
	if !ok {
		return RoundRecord{}, fmt.Errorf("invalid winner %v", values[1])
	}
	total, ok := values[2].(*big.Int)
	if !ok {
		return RoundRecord{}, fmt.Errorf("invalid totalAmount %v", values[2])
	}
	ts, ok := values[3].(*big.Int)
	if !ok || !ts.IsUint64() {
		return RoundRecord{}, fmt.Errorf("invalid timestamp %v", values[3])
	}

	return RoundRecord{
		RoundID:     roundID.Uint64(),
		Winner:      winner,
		TotalAmount: total,
		Timestamp:   ts.Uint64(),
	}, nil
}

// EntryID is the stream key of a round: "round-ended-<id>" right-padded to 32 bytes.
// Republishing a round writes the same key.
func EntryID(roundID uint64) common.Hash {
	var id common.Hash
	copy(id[:], fmt.Sprintf("round-ended-%d", roundID))
	return id
}

// Entry is one record written with Set.
type Entry struct {
	ID       common.Hash
	SchemaID common.Hash
	Data     []byte
}

// NewRoundEntry encodes rec into an Entry for schemaID.
func NewRoundEntry(schemaID common.Hash, rec RoundRecord) (Entry, error) {
	data, err := EncodeRoundEnded(rec)
	if err != nil {
		return Entry{}, err
	}
	return Entry{ID: EntryID(rec.RoundID), SchemaID: schemaID, Data: data}, nil
}

// RawEntry wraps encoded stream data as a RawLogEntry whose topic0 is the
// schema id, so stream data decodes through the same signature table as logs.
func RawEntry(schemaID common.Hash, data []byte, receivedAt time.Time) model.RawLogEntry {
	return model.RawLogEntry{
		Topics:     []string{schemaID.Hex()},
		Data:       hexutil.Encode(data),
		Origin:     model.OriginExternalStream,
		ReceivedAt: receivedAt.UTC(),
	}
}
