package streams

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSchemaID(t *testing.T) {
	want := crypto.Keccak256Hash([]byte(RoundEndedSchema))
	assert.Equal(t, want, ComputeSchemaID(RoundEndedSchema))
	assert.Equal(t, want, ComputeSchemaID("  "+RoundEndedSchema+"\n"))
}

func TestParseSchema(t *testing.T) {
	args, err := ParseSchema(RoundEndedSchema)
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, "roundId", args[0].Name)
	assert.Equal(t, "winner", args[1].Name)
	assert.Equal(t, "address", args[1].Type.String())

	_, err = ParseSchema("uint256")
	assert.Error(t, err)
	for _, bad := range []string{"uint999 x", "uint7 x", "int1000 y", "uint0 x", "uint2a x"} {
		_, err = ParseSchema(bad)
		assert.Error(t, err, bad)
	}
	for _, good := range []string{"uint8 a", "int256 b", "uint c", "int d"} {
		_, err = ParseSchema(good)
		assert.NoError(t, err, good)
	}
}

func TestRoundEndedEncoding(t *testing.T) {
	rec := RoundRecord{
		RoundID:     42,
		Winner:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		TotalAmount: big.NewInt(1000),
		Timestamp:   1700000000,
	}
	data, err := EncodeRoundEnded(rec)
	require.NoError(t, err)
	require.Len(t, data, 4*32)

	got, err := DecodeRoundEnded(data)
	require.NoError(t, err)
	assert.Equal(t, rec.RoundID, got.RoundID)
	assert.Equal(t, rec.Winner, got.Winner)
	assert.Equal(t, 0, rec.TotalAmount.Cmp(got.TotalAmount))
	assert.Equal(t, rec.Timestamp, got.Timestamp)

	_, err = DecodeRoundEnded(data[:40])
	assert.Error(t, err)
}

func TestEntryID(t *testing.T) {
	id := EntryID(7)
	prefix := []byte("round-ended-7")
	assert.Equal(t, prefix, id[:len(prefix)])
	for _, b := range id[len(prefix):] {
		assert.Zero(t, b)
	}
	assert.Equal(t, EntryID(7), EntryID(7))
	assert.NotEqual(t, EntryID(7), EntryID(70))
}

func TestNewRoundEntry(t *testing.T) {
	schemaID := ComputeSchemaID(RoundEndedSchema)
	entry, err := NewRoundEntry(schemaID, RoundRecord{RoundID: 3, Winner: common.HexToAddress("0x01"), TotalAmount: big.NewInt(5)})
	require.NoError(t, err)
	assert.Equal(t, schemaID, entry.SchemaID)
	assert.Equal(t, EntryID(3), entry.ID)

	rec, err := DecodeRoundEnded(entry.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.RoundID)
}
