package syncer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roundkeeper/internal/game"
	"roundkeeper/internal/model"
	"roundkeeper/internal/storage"
	"roundkeeper/internal/store"
	"roundkeeper/internal/streams"
)

var (
	lswAddress = common.HexToAddress("0xab20e6D156F6F1ea70793a70C01B1a379b603D50")
	winner     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	schemaID   = streams.ComputeSchemaID(streams.RoundEndedSchema)
)

type fakeChain struct {
	mu        sync.Mutex
	current   uint64
	head      uint64
	logs      []types.Log
	filterErr error
	filters   []BlockRange
	tsErr     error
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, BlockRange{From: from, To: to})
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(topics) > 1 && !containsHash(topics[1], lg.Topics[1]) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func containsHash(set []common.Hash, h common.Hash) bool {
	for _, v := range set {
		if v == h {
			return true
		}
	}
	return false
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	if f.tsErr != nil {
		return 0, f.tsErr
	}
	return 1_700_000_000 + number, nil
}

func (f *fakeChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	lsw, err := game.LSWABI()
	if err != nil {
		return nil, err
	}
	return lsw.Methods["getCurrentRoundInfo"].Outputs.Pack(
		new(big.Int).SetUint64(f.current), winner, big.NewInt(0), big.NewInt(0), true, big.NewInt(0), big.NewInt(0),
	)
}

func (f *fakeChain) addRoundEnded(t *testing.T, roundID, block uint64, total int64) {
	t.Helper()
	lsw, err := game.LSWABI()
	require.NoError(t, err)
	event := lsw.Events["RoundEnded"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(total))
	require.NoError(t, err)
	f.logs = append(f.logs, types.Log{
		Address:     lswAddress,
		Topics:      []common.Hash{event.ID, common.BigToHash(new(big.Int).SetUint64(roundID)), common.BytesToHash(winner.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
	})
}

type fakeStreams struct {
	mu      sync.Mutex
	entries [][]byte
	failFor map[uint64]error
	sets    int
}

func (f *fakeStreams) SchemaID() common.Hash     { return schemaID }
func (f *fakeStreams) Publisher() common.Address { return common.Address{} }

func (f *fakeStreams) GetAllPublisherDataForSchema(context.Context) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.entries...), nil
}

func (f *fakeStreams) Set(_ context.Context, entries []streams.Entry) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range entries {
		rec, err := streams.DecodeRoundEnded(entry.Data)
		if err != nil {
			return common.Hash{}, err
		}
		if err := f.failFor[rec.RoundID]; err != nil {
			return common.Hash{}, err
		}
	}
	for _, entry := range entries {
		f.entries = append(f.entries, entry.Data)
	}
	f.sets++
	return common.BigToHash(big.NewInt(int64(f.sets))), nil
}

func (f *fakeStreams) publish(t *testing.T, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		data, err := streams.EncodeRoundEnded(streams.RoundRecord{
			RoundID: id, Winner: winner, TotalAmount: big.NewInt(1000), Timestamp: 1_700_000_000,
		})
		require.NoError(t, err)
		f.entries = append(f.entries, data)
	}
}

func newTestSynchronizer(t *testing.T, chainReader ChainReader, client streams.Client, sink Ingester) *Synchronizer {
	t.Helper()
	decoder, err := game.NewDecoder(game.DecoderConfig{StreamSchemaID: schemaID})
	require.NoError(t, err)
	s, err := New(Config{
		LSWAddress:     lswAddress,
		RPS:            1000,
		RetryBaseDelay: time.Millisecond,
	}, chainReader, client, decoder, sink, nil)
	require.NoError(t, err)
	return s
}

func TestCheckSyncReportsMissingRounds(t *testing.T) {
	client := &fakeStreams{}
	client.publish(t, 1, 2, 3, 4)
	s := newTestSynchronizer(t, &fakeChain{current: 7}, client, nil)

	state, err := s.CheckSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), state.LatestStreamRoundID)
	assert.Equal(t, uint64(7), state.CurrentContractRoundID)
	assert.False(t, state.IsSynced)
	assert.Equal(t, []uint64{5, 6}, state.MissingRounds)
}

func TestCheckSyncStreamAhead(t *testing.T) {
	client := &fakeStreams{}
	client.publish(t, 1, 2, 3, 4)
	s := newTestSynchronizer(t, &fakeChain{current: 3}, client, nil)

	state, err := s.CheckSync(context.Background())
	require.NoError(t, err)
	assert.False(t, state.IsSynced)
	assert.Empty(t, state.MissingRounds)
}

func TestSyncBackfillsMissingRounds(t *testing.T) {
	ctx := context.Background()
	chainReader := &fakeChain{current: 7, head: 10_000}
	chainReader.addRoundEnded(t, 5, 9_500, 5000)
	chainReader.addRoundEnded(t, 6, 9_900, 6000)
	client := &fakeStreams{}
	client.publish(t, 1, 2, 3, 4)
	history := store.NewRoundHistory(store.HistoryConfig{}, storage.NewMemoryKV(), nil)
	history.Load(ctx)

	s := newTestSynchronizer(t, chainReader, client, history)
	result, err := s.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, []uint64{5, 6}, result.Before.MissingRounds)
	assert.Equal(t, []uint64{5, 6}, result.Backfill.Published)
	assert.Len(t, result.Backfill.TxHashes, 2)
	assert.Empty(t, result.Backfill.Errors)
	assert.True(t, result.After.IsSynced)
	assert.Empty(t, result.After.MissingRounds)

	assert.Equal(t, BlockRange{From: 8001, To: 10_000}, result.Backfill.Scanned)
	for _, r := range chainReader.filters {
		assert.LessOrEqual(t, r.Size(), uint64(900))
	}

	rec, ok := history.Get(5)
	require.True(t, ok)
	assert.Equal(t, "5000", rec.TotalAmount)
	assert.Equal(t, uint64(1_700_009_500), rec.Timestamp)
	assert.Equal(t, 6, history.Len())
}

func TestBackfillPublishFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	chainReader := &fakeChain{current: 7, head: 10_000}
	chainReader.addRoundEnded(t, 5, 9_500, 5000)
	chainReader.addRoundEnded(t, 6, 9_900, 6000)
	client := &fakeStreams{failFor: map[uint64]error{5: errors.New("insufficient funds")}}
	client.publish(t, 1, 2, 3, 4)

	history := store.NewRoundHistory(store.HistoryConfig{}, storage.NewMemoryKV(), nil)
	history.Load(ctx)

	s := newTestSynchronizer(t, chainReader, client, history)
	report := s.Backfill(ctx, []uint64{5, 6})
	assert.Equal(t, []uint64{6}, report.Published)
	assert.False(t, history.Has(5))
	assert.True(t, history.Has(6))
	require.Len(t, report.Errors, 1)
	assert.Equal(t, uint64(5), report.Errors[0].RoundID)
	assert.Equal(t, []uint64{5}, report.Failed())

	assert.Equal(t, []uint64{5}, s.Pending())

	state, err := s.CheckSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), state.LatestStreamRoundID)
	assert.Equal(t, []uint64{5}, s.Pending())

	client.mu.Lock()
	client.failFor = nil
	client.mu.Unlock()
	result, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, result.Backfill.Published)
	assert.Empty(t, s.Pending())
	assert.True(t, history.Has(5))
	assert.True(t, result.After.IsSynced)
}

func TestBackfillRoundNotFound(t *testing.T) {
	chainReader := &fakeChain{current: 7, head: 10_000}
	chainReader.addRoundEnded(t, 6, 9_900, 6000)
	client := &fakeStreams{}

	s := newTestSynchronizer(t, chainReader, client, nil)
	report := s.Backfill(context.Background(), []uint64{5, 6})
	assert.Equal(t, []uint64{6}, report.Published)
	assert.Equal(t, []uint64{5}, report.Failed())
}

func TestBackfillTimestampFallback(t *testing.T) {
	ctx := context.Background()
	chainReader := &fakeChain{current: 6, head: 10_000, tsErr: errors.New("header unavailable")}
	chainReader.addRoundEnded(t, 5, 9_500, 5000)
	history := store.NewRoundHistory(store.HistoryConfig{}, nil, nil)

	s := newTestSynchronizer(t, chainReader, &fakeStreams{}, history)
	fixed := time.Unix(1_800_000_000, 0)
	s.now = func() time.Time { return fixed }

	report := s.Backfill(ctx, []uint64{5})
	assert.Equal(t, []uint64{5}, report.Published)
	rec, ok := history.Get(5)
	require.True(t, ok)
	assert.Equal(t, uint64(1_800_000_000), rec.Timestamp)
}

func TestSyncInProgress(t *testing.T) {
	s := newTestSynchronizer(t, &fakeChain{current: 1}, &fakeStreams{}, nil)
	s.running.Lock()
	defer s.running.Unlock()

	_, err := s.Sync(context.Background())
	assert.ErrorIs(t, err, model.ErrSyncInProgress)
}

func TestNewRejectsSchemaMismatch(t *testing.T) {
	decoder, err := game.NewDecoder(game.DecoderConfig{StreamSchemaID: common.HexToHash("0x01")})
	require.NoError(t, err)
	_, err = New(Config{LSWAddress: lswAddress}, &fakeChain{}, &fakeStreams{}, decoder, nil, nil)
	assert.Error(t, err)
}
