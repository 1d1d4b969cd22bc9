package syncer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roundkeeper/internal/chain"
	"roundkeeper/internal/game"
	"roundkeeper/internal/model"
	"roundkeeper/internal/store"
	"roundkeeper/internal/streams"
)

// ChainReader is the RPC surface the synchronizer needs.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Ingester receives events recovered during sync.
type Ingester interface {
	Ingest(ctx context.Context, ev model.DomainEvent) (store.Outcome, error)
}

// Config configures a Synchronizer.
type Config struct {
	LSWAddress       common.Address
	MaxBlockRange    uint64
	LookbackBlocks   uint64
	RPS              float64
	MaxRetries       int
	RetryBaseDelay   time.Duration
	TimestampWorkers int
}

func (c *Config) applyDefaults() {
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = 900
	}
	if c.LookbackBlocks == 0 {
		c.LookbackBlocks = 2000
	}
	if c.RPS <= 0 {
		c.RPS = 5
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.TimestampWorkers <= 0 {
		c.TimestampWorkers = 4
	}
}

// Synchronizer detects rounds missing from the data stream and republishes
// them from the game contract's logs.
type Synchronizer struct {
	cfg     Config
	chain   ChainReader
	streams streams.Client
	decoder *game.Decoder
	sink    Ingester
	limiter *rate.Limiter
	logger  *zap.Logger
	running sync.Mutex
	now     func() time.Time

	mu     sync.Mutex
	failed map[uint64]struct{}
}

// New builds a Synchronizer. sink may be nil when recovered rounds should
// only be published.
func New(cfg Config, chainReader ChainReader, streamClient streams.Client, decoder *game.Decoder, sink Ingester, logger *zap.Logger) (*Synchronizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chainReader == nil {
		return nil, fmt.Errorf("chain reader is required")
	}
	if streamClient == nil {
		return nil, fmt.Errorf("streams client is required")
	}
	if decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if cfg.LSWAddress == (common.Address{}) {
		return nil, fmt.Errorf("lsw address is required")
	}
	if decoder.SchemaID() != streamClient.SchemaID() {
		return nil, fmt.Errorf("decoder schema %s does not match stream schema %s", decoder.SchemaID().Hex(), streamClient.SchemaID().Hex())
	}
	cfg.applyDefaults()

	return &Synchronizer{
		cfg:     cfg,
		chain:   chainReader,
		streams: streamClient,
		decoder: decoder,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		logger:  logger,
		now:     time.Now,
		failed:  make(map[uint64]struct{}),
	}, nil
}

// CheckSync compares the stream's latest round with the contract counter.
// Rounds read from the stream are handed to the sink.
func (s *Synchronizer) CheckSync(ctx context.Context) (model.SyncState, error) {
	info, err := game.FetchCurrentRoundInfo(ctx, s.chain, s.cfg.LSWAddress)
	if err != nil {
		return model.SyncState{}, &model.ConnectionError{Source: "rpc", Err: err}
	}

	events, err := s.streamRounds(ctx)
	if err != nil {
		return model.SyncState{}, &model.ConnectionError{Source: "streams", Err: err}
	}

	var latest uint64
	for _, ev := range events {
		if ev.RoundID > latest {
			latest = ev.RoundID
		}
		s.clearFailed(ev.RoundID)
		s.ingest(ctx, ev)
	}

	state := model.NewSyncState(latest, info.RoundID)
	if info.RoundID <= latest {
		s.logger.Warn("contract round is not ahead of the stream",
			zap.Uint64("contract_round", info.RoundID),
			zap.Uint64("stream_round", latest),
		)
	}
	s.logger.Info("sync state",
		zap.Uint64("stream_round", state.LatestStreamRoundID),
		zap.Uint64("contract_round", state.CurrentContractRoundID),
		zap.Bool("synced", state.IsSynced),
		zap.Int("missing", len(state.MissingRounds)),
	)
	return state, nil
}

func (s *Synchronizer) streamRounds(ctx context.Context) ([]model.DomainEvent, error) {
	var entries [][]byte
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, func(ctx context.Context) error {
		var err error
		entries, err = s.streams.GetAllPublisherDataForSchema(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	receivedAt := s.now()
	events := make([]model.DomainEvent, 0, len(entries))
	for i, data := range entries {
		ev, err := s.decoder.Decode(streams.RawEntry(s.streams.SchemaID(), data, receivedAt))
		if err != nil {
			s.logger.Warn("skipping undecodable stream entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Synchronizer) ingest(ctx context.Context, ev model.DomainEvent) {
	if s.sink == nil {
		return
	}
	if _, err := s.sink.Ingest(ctx, ev); err != nil {
		s.logger.Debug("sync ingest rejected",
			zap.Uint64("round_id", ev.RoundID),
			zap.String("origin", string(ev.Origin)),
			zap.Error(err),
		)
	}
}

// Pending returns rounds below the stream's latest round whose backfill
// failed. They are retried by the next Sync.
func (s *Synchronizer) Pending() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.failed))
	for id := range s.failed {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Synchronizer) markFailed(id uint64) {
	s.mu.Lock()
	s.failed[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Synchronizer) clearFailed(id uint64) {
	s.mu.Lock()
	delete(s.failed, id)
	s.mu.Unlock()
}

// BackfillReport describes one backfill pass.
type BackfillReport struct {
	Requested []uint64           `json:"requested"`
	Published []uint64           `json:"published"`
	TxHashes  []string           `json:"txHashes"`
	Errors    []*model.SyncError `json:"-"`
	Scanned   BlockRange         `json:"scanned"`
}

// Failed returns the ids of rounds that could not be backfilled.
func (r BackfillReport) Failed() []uint64 {
	out := make([]uint64, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.RoundID)
	}
	return out
}

// Backfill scans recent blocks for the RoundEnded logs of missing rounds and
// publishes each one. A failure on one round never stops the others.
func (s *Synchronizer) Backfill(ctx context.Context, missing []uint64) BackfillReport {
	report := BackfillReport{Requested: append([]uint64{}, missing...)}
	if len(missing) == 0 {
		return report
	}
	sort.Slice(report.Requested, func(i, j int) bool { return report.Requested[i] < report.Requested[j] })

	fail := func(id uint64, err error) {
		s.markFailed(id)
		report.Errors = append(report.Errors, &model.SyncError{RoundID: id, Err: err})
	}
	failAll := func(err error) BackfillReport {
		for _, id := range report.Requested {
			fail(id, err)
		}
		return report
	}

	var head uint64
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, func(ctx context.Context) error {
		var err error
		head, err = s.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		s.logger.Warn("backfill head lookup failed", zap.Error(err))
		return failAll(fmt.Errorf("latest block: %w", err))
	}

	window := RecentWindow(head, s.cfg.LookbackBlocks)
	report.Scanned = window
	found, err := s.scan(ctx, window, report.Requested)
	if err != nil {
		return failAll(err)
	}
	s.resolveTimestamps(ctx, found)

	for _, id := range report.Requested {
		ev, ok := found[id]
		if !ok {
			err := fmt.Errorf("round ended log not found in blocks %d-%d", window.From, window.To)
			s.logger.Warn("backfill round not found", zap.Uint64("round_id", id), zap.Error(err))
			fail(id, err)
			continue
		}
		txHash, err := s.publish(ctx, ev)
		if err != nil {
			s.logger.Warn("backfill publish failed", zap.Uint64("round_id", id), zap.Error(err))
			fail(id, err)
			continue
		}
		s.ingest(ctx, ev)
		s.clearFailed(id)
		report.Published = append(report.Published, id)
		report.TxHashes = append(report.TxHashes, txHash.Hex())
		s.logger.Info("round backfilled", zap.Uint64("round_id", id), zap.String("tx_hash", txHash.Hex()))
	}
	return report
}

// scan reads RoundEnded logs for ids chunk by chunk, sequentially.
func (s *Synchronizer) scan(ctx context.Context, window BlockRange, ids []uint64) (map[uint64]model.DomainEvent, error) {
	ranges, err := SplitRange(window.From, window.To, s.cfg.MaxBlockRange)
	if err != nil {
		return nil, err
	}

	roundTopics := make([]common.Hash, 0, len(ids))
	wanted := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		roundTopics = append(roundTopics, common.BigToHash(new(big.Int).SetUint64(id)))
		wanted[id] = struct{}{}
	}
	topics := [][]common.Hash{{s.decoder.Topic(model.KindRoundEnded)}, roundTopics}
	addresses := []common.Address{s.cfg.LSWAddress}

	found := make(map[uint64]model.DomainEvent, len(ids))
	for _, r := range ranges {
		if len(found) == len(wanted) {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return found, err
		}

		var logs []types.Log
		err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, func(ctx context.Context) error {
			var err error
			logs, err = s.chain.FilterLogs(ctx, r.From, r.To, addresses, topics)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			s.logger.Warn("backfill chunk failed",
				zap.Uint64("from", r.From),
				zap.Uint64("to", r.To),
				zap.Error(err),
			)
			continue
		}

		receivedAt := s.now()
		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			ev, err := s.decoder.Decode(chain.RawLogFromLog(lg, model.OriginRPCPoll, 0, receivedAt))
			if err != nil {
				s.logger.Warn("skipping undecodable log", zap.String("tx_hash", lg.TxHash.Hex()), zap.Error(err))
				continue
			}
			if _, ok := wanted[ev.RoundID]; !ok || ev.Kind != model.KindRoundEnded {
				continue
			}
			if _, dup := found[ev.RoundID]; dup {
				continue
			}
			ev.Timestamp = 0
			found[ev.RoundID] = ev
		}
	}
	return found, nil
}

// resolveTimestamps fills block timestamps with a bounded worker pool and
// falls back to the wall clock per round.
func (s *Synchronizer) resolveTimestamps(ctx context.Context, found map[uint64]model.DomainEvent) {
	if len(found) == 0 {
		return
	}

	type result struct {
		id uint64
		ts uint64
	}
	results := make(chan result, len(found))

	pool := pond.NewPool(s.cfg.TimestampWorkers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for id, ev := range found {
		id, block := id, ev.BlockNumber
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			ts, err := s.chain.BlockTimestamp(groupCtx, block)
			if err != nil {
				s.logger.Debug("block timestamp lookup failed", zap.Uint64("block", block), zap.Error(err))
				return
			}
			results <- result{id: id, ts: ts}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn("timestamp lookups failed", zap.Error(err))
	}
	close(results)

	for r := range results {
		ev := found[r.id]
		ev.Timestamp = r.ts
		found[r.id] = ev
	}
	fallback := uint64(s.now().Unix())
	for id, ev := range found {
		if ev.Timestamp == 0 {
			ev.Timestamp = fallback
			found[id] = ev
		}
	}
}

func (s *Synchronizer) publish(ctx context.Context, ev model.DomainEvent) (common.Hash, error) {
	data, ok := ev.RoundEnded()
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected payload %T", ev.Payload)
	}
	if !model.IsValidWinner(data.Winner.Hex()) || data.TotalAmount == nil || data.TotalAmount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%w: round %d", model.ErrInvalidRound, ev.RoundID)
	}

	entry, err := streams.NewRoundEntry(s.streams.SchemaID(), streams.RoundRecord{
		RoundID:     ev.RoundID,
		Winner:      data.Winner,
		TotalAmount: data.TotalAmount,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode round %d: %w", ev.RoundID, err)
	}
	return s.streams.Set(ctx, []streams.Entry{entry})
}

// Result is the outcome of a full sync.
type Result struct {
	Before   model.SyncState `json:"before"`
	After    model.SyncState `json:"after"`
	Backfill BackfillReport  `json:"backfill"`
}

// Sync runs CheckSync, backfills the gap plus any rounds that failed in an
// earlier pass, and checks again. Only one sync runs at a time; an
// overlapping call returns model.ErrSyncInProgress.
func (s *Synchronizer) Sync(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, model.ErrSyncInProgress
	}
	defer s.running.Unlock()

	before, err := s.CheckSync(ctx)
	if err != nil {
		return Result{}, err
	}
	result := Result{Before: before, After: before}
	todo := mergeRounds(before.MissingRounds, s.Pending())
	if len(todo) == 0 {
		return result, nil
	}

	result.Backfill = s.Backfill(ctx, todo)
	after, err := s.CheckSync(ctx)
	if err != nil {
		return result, err
	}
	result.After = after
	return result, nil
}

func mergeRounds(a, b []uint64) []uint64 {
	set := make(map[uint64]struct{}, len(a)+len(b))
	out := make([]uint64, 0, len(a)+len(b))
	for _, ids := range [][]uint64{a, b} {
		for _, id := range ids {
			if _, ok := set[id]; ok {
				continue
			}
			set[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
